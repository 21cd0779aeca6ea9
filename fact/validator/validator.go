// Package validator provides the pluggable value validators referenced by
// ObjectType and FactType definitions. A type stores a validator name and a
// parameter; the Factory turns that pair into a Validator at runtime.
package validator

import (
	"regexp"
	"sync"

	playground "github.com/go-playground/validator/v10"

	"github.com/teranos/factgraph/errors"
)

// Built-in validator names.
const (
	True  = "TrueValidator"
	Regex = "RegexValidator"
	Tag   = "TagValidator"
)

// Validator decides whether a value is acceptable for a type.
type Validator interface {
	Validate(value string) bool
}

// Constructor builds a validator from its configured parameter.
type Constructor func(parameter string) (Validator, error)

// Factory maps validator names to constructors and caches constructed
// validators per (name, parameter) so regexes compile once.
type Factory struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
	instances    map[string]Validator
}

// NewFactory returns a factory with the built-in validators registered.
func NewFactory() *Factory {
	f := &Factory{
		constructors: make(map[string]Constructor),
		instances:    make(map[string]Validator),
	}
	f.Register(True, func(string) (Validator, error) { return TrueValidator{}, nil })
	f.Register(Regex, NewRegexValidator)
	f.Register(Tag, NewTagValidator)
	return f
}

// Register adds or replaces a constructor. Cached instances are dropped.
func (f *Factory) Register(name string, c Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[name] = c
	f.instances = make(map[string]Validator)
}

// Has reports whether name is registered.
func (f *Factory) Has(name string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.constructors[name]
	return ok
}

// Get returns the validator registered under name, configured with parameter.
func (f *Factory) Get(name, parameter string) (Validator, error) {
	key := name + "\x00" + parameter

	f.mu.RLock()
	v, cached := f.instances[key]
	c, ok := f.constructors[name]
	f.mu.RUnlock()

	if cached {
		return v, nil
	}
	if !ok {
		return nil, errors.WithStack(errors.NewInvalidArgumentError(
			"Validator does not exist.", "validator.not.exist", "validator", name))
	}

	v, err := c(parameter)
	if err != nil {
		return nil, errors.WithStack(errors.NewInvalidArgumentError(
			"Validator parameter is invalid.", "validator.parameter.invalid", "validatorParameter", parameter))
	}

	f.mu.Lock()
	f.instances[key] = v
	f.mu.Unlock()
	return v, nil
}

// TrueValidator accepts every value.
type TrueValidator struct{}

func (TrueValidator) Validate(string) bool { return true }

// RegexValidator accepts values fully matching its pattern.
type RegexValidator struct {
	pattern *regexp.Regexp
}

// NewRegexValidator compiles parameter, anchored at both ends.
func NewRegexValidator(parameter string) (Validator, error) {
	re, err := regexp.Compile("^(?:" + parameter + ")$")
	if err != nil {
		return nil, errors.Wrapf(err, "compile regex %q", parameter)
	}
	return RegexValidator{pattern: re}, nil
}

func (r RegexValidator) Validate(value string) bool {
	return r.pattern.MatchString(value)
}

// TagValidator checks values against a go-playground validation tag such as
// "ipv4", "fqdn" or "ip|hostname".
type TagValidator struct {
	tag      string
	validate *playground.Validate
}

var tagEngine = playground.New()

// NewTagValidator checks that parameter is a usable tag before returning.
func NewTagValidator(parameter string) (v Validator, err error) {
	if parameter == "" {
		return nil, errors.New("tag validator requires a tag")
	}
	// An unknown tag makes the playground validator panic on first use.
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, errors.Newf("invalid validation tag %q: %v", parameter, r)
		}
	}()
	_ = tagEngine.Var("", parameter)
	return TagValidator{tag: parameter, validate: tagEngine}, nil
}

func (t TagValidator) Validate(value string) bool {
	return t.validate.Var(value, t.tag) == nil
}
