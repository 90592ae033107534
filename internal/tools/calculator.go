package tools

import (
	"context"
	"strconv"
)

type Calculator struct{}

func (Calculator) Definition() Definition {
	return Definition{
		Name:        "calculator",
		Description: "Perform basic arithmetic operations",
		Category:    "Mathematics",
		InputSchema: Schema{
			Type: "object",
			Properties: map[string]Property{
				"operation": {Type: "string", Description: "The operation to perform", Enum: []string{"add", "subtract", "multiply", "divide"}},
				"a":         {Type: "number", Description: "First operand"},
				"b":         {Type: "number", Description: "Second operand"},
			},
			Required: []string{"operation", "a", "b"},
		},
	}
}

func (Calculator) Execute(_ context.Context, call Call) (Response, error) {
	op, err := RequireString(call.Args, "operation")
	if err != nil {
		return ErrorResult("%v", err), nil
	}
	a, err := Number(call.Args, "a")
	if err != nil {
		return ErrorResult("%v", err), nil
	}
	b, err := Number(call.Args, "b")
	if err != nil {
		return ErrorResult("%v", err), nil
	}
	var out float64
	switch op {
	case "add":
		out = a + b
	case "subtract":
		out = a - b
	case "multiply":
		out = a * b
	case "divide":
		if b == 0 {
			return ErrorResult("Division by zero"), nil
		}
		out = a / b
	default:
		return ErrorResult("Unknown operation: %s", op), nil
	}
	return TextResult(strconv.FormatFloat(out, 'f', -1, 64)), nil
}
