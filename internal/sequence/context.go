package sequence

import (
	"fmt"
	"sort"

	lua "github.com/yuin/gopher-lua"
)

// Context maps variable names to typed values shared across the steps of a
// sequence. The zero value is not usable; create one with NewContext.
//
// InitHook, if set, is invoked once per step with the freshly-created script
// environment, after the safe library subset and the engine commands have
// been installed. Callers use it to inject their own helper functions.
type Context struct {
	vars map[string]Value

	InitHook func(*lua.LState)
}

// NewContext creates an empty context.
func NewContext() *Context {
	return &Context{vars: make(map[string]Value)}
}

// Set stores a value under name. The name must match the identifier grammar
// [A-Za-z_][A-Za-z0-9_]*; writing is otherwise unconditional.
func (c *Context) Set(name string, v Value) error {
	if !IsValidVariableName(name) {
		return fmt.Errorf("invalid variable name %q", name)
	}
	c.vars[name] = v
	return nil
}

// Get returns the value stored under name. Reading a missing name is not an
// error; the second result is false.
func (c *Context) Get(name string) (Value, bool) {
	v, ok := c.vars[name]
	return v, ok
}

// Delete removes name from the context.
func (c *Context) Delete(name string) {
	delete(c.vars, name)
}

// Names returns all variable names in lexicographic order.
func (c *Context) Names() []string {
	names := make([]string, 0, len(c.vars))
	for name := range c.vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of variables.
func (c *Context) Len() int { return len(c.vars) }
