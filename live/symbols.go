package live

import (
	"reflect"
)

// ImportPath is the path interpreted artifacts import the contract from.
const ImportPath = "github.com/kingrea/relive/live"

// Symbols returns the interpreter export table for this package with
// Register bound to reg. The layout follows what `yaegi extract` generates:
// keys are "importpath/pkgname" and interfaces carry an underscore-prefixed
// wrapper type so interpreted values can satisfy them.
func Symbols(reg *Registry) map[string]map[string]reflect.Value {
	return map[string]map[string]reflect.Value{
		ImportPath + "/live": {
			"Register": reflect.ValueOf(reg.Register),
			"Factory":  reflect.ValueOf((*Factory)(nil)),
			"Host":     reflect.ValueOf((*Host)(nil)),
			"View":     reflect.ValueOf((*View)(nil)),
			"_View":    reflect.ValueOf((*_live_View)(nil)),
		},
	}
}

// _live_View is an interface wrapper for View type
type _live_View struct {
	IValue          interface{}
	WProduceContent func(host *Host) (string, error)
}

func (W _live_View) ProduceContent(host *Host) (string, error) {
	return W.WProduceContent(host)
}
