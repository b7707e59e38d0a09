package cli

import (
	"reflect"

	"github.com/alecthomas/kong"
)

func pidMapper() kong.MapperFunc {
	return func(ctx *kong.DecodeContext, target reflect.Value) error {
		var s string
		if err := ctx.Scan.PopValueInto("pid", &s); err != nil {
			return err
		}
		pid, err := ParsePid(s)
		if err != nil {
			return err
		}
		target.Set(reflect.ValueOf(pid))
		return nil
	}
}

func objectPathMapper() kong.MapperFunc {
	return func(ctx *kong.DecodeContext, target reflect.Value) error {
		var s string
		if err := ctx.Scan.PopValueInto("object", &s); err != nil {
			return err
		}
		p, err := ParseObjectPath(s)
		if err != nil {
			return err
		}
		target.Set(reflect.ValueOf(p))
		return nil
	}
}
