// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"errors"
	"fmt"
	"math"

	"lukago.dev/lua/internal/luacode"
)

// finishCall moves the top numResults stack values
// to where the caller expects them.
func (l *State) finishCall(numResults int) {
	frame := l.frame()
	results := l.stack[len(l.stack)-numResults:]
	dest := l.stack[frame.framePointer():cap(l.stack)]
	numWantedResults := frame.numResults
	if numWantedResults == MultipleReturns {
		numWantedResults = numResults
	}

	n := copy(dest, results)
	if numWantedResults > n {
		clear(dest[n:numWantedResults])
	}
	// Clear out any registers the function was using.
	clear(dest[numWantedResults:])
	l.setTop(frame.framePointer() + numWantedResults)

	l.popCallStack()
}

// arithmeticMetamethod is the fallback path for an arithmetic or bitwise
// opcode whose operands did not both coerce to the typed operation: it
// looks up event on either operand and, failing that, reports the
// standard "attempt to perform X on a Y value" error.
func (l *State) arithmeticMetamethod(event luacode.TagMethod, arg1, arg2 value) (value, error) {
	op, isArithmetic := event.ArithmeticOperator()
	if !isArithmetic {
		return nil, fmt.Errorf("%v is not an arithmetic metamethod", event)
	}

	if f := l.binaryMetamethod(arg1, arg2, event); f != nil {
		return l.call1(f, arg1, arg2)
	}

	kind := "arithmetic"
	if op.IsIntegral() {
		if valueType(arg1) == TypeNumber && valueType(arg2) == TypeNumber {
			return nil, luacode.ErrNotInteger
		}
		kind = "bitwise operation"
	}
	var tname string
	if valueType(arg1) == TypeNumber {
		tname = l.typeName(arg2)
	} else {
		tname = l.typeName(arg1)
	}
	return nil, fmt.Errorf("attempt to perform %s on a %s value", kind, tname)
}

// decodeBinaryMetamethod recovers the register and operator of the binary
// arithmetic instruction that an [luacode.OpMmBin]/[luacode.OpMmBinI]/
// [luacode.OpMmBinK] instruction follows, per spec.md §4.4's "Arithmetic
// fallback" dispatch: the typed op is tried first and the metamethod
// instruction immediately after it only runs if that failed.
func decodeBinaryMetamethod(frame *callFrame, proto *luacode.Prototype) (uint8, luacode.ArithmeticOperator, error) {
	pc := frame.pc - 1
	i := proto.Code[pc]
	if pc == 0 {
		return 0, 0, fmt.Errorf("%s: decode instruction: %v must be preceded by binary arithmetic instruction",
			sourceLocation(proto, pc), i.OpCode())
	}
	prev := proto.Code[pc-1]
	prevOpCode := prev.OpCode()
	prevOperator, isArithmetic := prevOpCode.ArithmeticOperator()
	if !isArithmetic || !prevOperator.IsBinary() {
		return 0, 0, fmt.Errorf("%s: decode instruction: %v must be preceded by binary arithmetic instruction (found %v)",
			sourceLocation(proto, pc), i.OpCode(), prevOpCode)
	}
	if got, want := luacode.TagMethod(i.ArgC()), prevOperator.TagMethod(); got != want {
		err := fmt.Errorf("%s: decode instruction: found metamethod %v in %v after %v (expected %v)",
			sourceLocation(proto, pc), got, i.OpCode(), prev.OpCode(), want)
		return prev.ArgA(), prevOperator, err
	}
	return prev.ArgA(), prevOperator, nil
}

// forPrep initializes the numeric for loop state
// during an [luacode.OpForPrep] instruction.
// forPrep returns [errSkipLoop] if initialization succeeded
// but the loop should not be entered.
func (l *State) forPrep(idx, limit, step, control *value) error {
	initInteger, isInitInteger := (*idx).(integerValue)
	stepInteger, isStepInteger := (*step).(integerValue)
	if isInitInteger && isStepInteger {
		limitInteger, err := l.forLoopLimitToInteger(initInteger, *limit, stepInteger)
		if err != nil {
			return err
		}
		var count uint64
		if stepInteger > 0 {
			count = uint64(limitInteger) - uint64(initInteger)
			if stepInteger != 1 { // Avoid division in the default case.
				count /= uint64(stepInteger)
			}
		} else {
			// stepInteger+1 avoids negating [math.MinInt64].
			positiveStep := uint64(-(stepInteger + 1)) + 1
			count = (uint64(initInteger) - uint64(limitInteger)) / positiveStep
		}
		*limit = integerValue(count)
		*control = initInteger
		return nil
	}

	limitNumber, ok := toNumber(*limit)
	if !ok {
		return fmt.Errorf("bad 'for' limit (number expected, got %s)", l.typeName(*limit))
	}
	stepNumber, ok := toNumber(*step)
	if !ok {
		return fmt.Errorf("bad 'for' step (number expected, got %s)", l.typeName(*step))
	}
	initNumber, ok := toNumber(*idx)
	if !ok {
		return fmt.Errorf("bad 'for' initial value (number expected, got %s)", l.typeName(*idx))
	}
	if stepNumber == 0 {
		return errZeroStep
	}
	if !continueForLoop(initNumber, limitNumber, stepNumber) {
		return errSkipLoop
	}
	// Coerce all registers to floatValue.
	*idx = initNumber
	*limit = limitNumber
	*step = stepNumber
	*control = initNumber
	return nil
}

// forLoopLimitToInteger converts the given “for” loop limit value to an integer.
// forLoopLimitToInteger will return [errSkipLoop] if the loop should not be entered.
func (l *State) forLoopLimitToInteger(init integerValue, limit value, step integerValue) (limitInteger integerValue, err error) {
	if step == 0 {
		return 0, errZeroStep
	}
	switch limit := limit.(type) {
	case integerValue:
		limitInteger = limit
	case stringValue:
		var ok bool
		limitInteger, ok = limit.toInteger()
		if !ok {
			limitFloat, ok := limit.toNumber()
			if !ok {
				return 0, fmt.Errorf("bad 'for' limit (number expected, got %s)", l.typeName(limit))
			}
			limitInteger, ok = floatToIntegerForLoopLimit(limitFloat, step)
			if !ok {
				return 0, errSkipLoop
			}
		}
	case floatValue:
		var ok bool
		limitInteger, ok = floatToIntegerForLoopLimit(limit, step)
		if !ok {
			return 0, errSkipLoop
		}
	default:
		return 0, fmt.Errorf("bad 'for' limit (number expected, got %s)", l.typeName(limit))
	}

	if !continueForLoop(init, limitInteger, step) {
		return limitInteger, errSkipLoop
	}
	return limitInteger, nil
}

var (
	errSkipLoop = errors.New("'for' limit prevents loop execution")
	errZeroStep = errors.New("'for' step is zero")
)

// floatToIntegerForLoopLimit converts a floating-point number to an integer
// for use as a “for” loop limit.
// If the floating-point value is out of range of an integer,
// then the limit is clipped to an integer.
// ok is true if and only if there exists any initial value that could satisfy the limit.
func floatToIntegerForLoopLimit(limit floatValue, step integerValue) (limitInteger integerValue, ok bool) {
	if math.IsNaN(float64(limit)) || step == 0 {
		return 0, false
	}
	mode := luacode.Floor
	if step < 0 {
		mode = luacode.Ceil
	}
	i, ok := luacode.FloatToInteger(float64(limit), mode)
	switch {
	case !ok && limit > 0:
		return math.MaxInt64, step > 0
	case !ok && limit < 0:
		return math.MinInt64, step < 0
	default:
		return integerValue(i), true
	}
}

// continueForLoop reports whether a for loop with the given limit and step
// should start another iteration with the given index.
func continueForLoop[T integerValue | floatValue](idx, limit, step T) bool {
	if step > 0 {
		return idx <= limit
	} else {
		return limit <= idx
	}
}

// decodeExtraArg reads the [luacode.OpExtraArg] instruction immediately
// following the current one, as used by instructions whose argument
// doesn't fit in a single [luacode.Instruction] (e.g. large constant
// indices after [luacode.OpNewTable]).
func decodeExtraArg(frame *callFrame, proto *luacode.Prototype) (uint32, error) {
	pc := frame.pc - 1
	argPC := pc + 1
	if argPC >= len(proto.Code) {
		return 0, fmt.Errorf("%s: decode instruction: %v expects extra argument",
			sourceLocation(proto, pc), proto.Code[pc].OpCode())
	}
	i := proto.Code[argPC]
	if got := i.OpCode(); got != luacode.OpExtraArg {
		return 0, fmt.Errorf("%s: decode instruction: %v expects extra argument (found %v)",
			sourceLocation(proto, pc), proto.Code[pc].OpCode(), got)
	}
	return i.ArgAx(), nil
}
