package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/dop251/goja"

	"github.com/mattjoyce/convert/internal/protocol"
)

// ToNative parses JSON text into a runtime value using the runtime's own
// JSON.parse, so the backend sees plain objects rather than wrapped Go maps.
func ToNative(vm *goja.Runtime, raw json.RawMessage) (goja.Value, error) {
	raw, err := protocol.CheckPayload(raw)
	if err != nil {
		return nil, err
	}
	parse, err := jsonFunc(vm, "parse")
	if err != nil {
		return nil, err
	}
	v, err := parse(goja.Undefined(), vm.ToValue(string(raw)))
	if err != nil {
		return nil, &protocol.SerializationError{Op: "payload", Err: err}
	}
	return v, nil
}

// FromNative renders a runtime value back to JSON text with JSON.stringify.
// Values that have no JSON form (undefined, functions, symbols) are rejected.
func FromNative(vm *goja.Runtime, v goja.Value) (json.RawMessage, error) {
	if v == nil || goja.IsUndefined(v) {
		return nil, &protocol.SerializationError{Op: "result", Err: fmt.Errorf("value is undefined")}
	}
	stringify, err := jsonFunc(vm, "stringify")
	if err != nil {
		return nil, err
	}
	out, err := stringify(goja.Undefined(), v)
	if err != nil {
		return nil, &protocol.SerializationError{Op: "result", Err: err}
	}
	if goja.IsUndefined(out) {
		return nil, &protocol.SerializationError{Op: "result", Err: fmt.Errorf("value of type %s has no JSON form", typeOf(v))}
	}
	return json.RawMessage(out.String()), nil
}

func jsonFunc(vm *goja.Runtime, name string) (goja.Callable, error) {
	obj := vm.Get("JSON")
	if obj == nil || goja.IsUndefined(obj) {
		return nil, fmt.Errorf("runtime has no JSON object")
	}
	fn, ok := goja.AssertFunction(obj.ToObject(vm).Get(name))
	if !ok {
		return nil, fmt.Errorf("runtime JSON.%s is not callable", name)
	}
	return fn, nil
}

func typeOf(v goja.Value) string {
	if t := v.ExportType(); t != nil {
		return t.String()
	}
	return "unknown"
}
