package model

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

// Registry errors.
var (
	ErrVariableNotFound = errors.New("variable not found")
	ErrCommandNotFound  = errors.New("command not found")
)

// Registry collects variable and command descriptions by path.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	variables map[string]*Variable
	commands  map[string]*Command
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		variables: make(map[string]*Variable),
		commands:  make(map[string]*Command),
	}
}

// AddVariable stores or replaces a variable description.
func (r *Registry) AddVariable(v Variable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.variables[v.Path] = &v
}

// AddCommand stores or replaces a command description.
func (r *Registry) AddCommand(c Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[c.Path] = &c
}

// Variable returns a copy of the variable at path.
func (r *Registry) Variable(path string) (Variable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.variables[path]
	if !ok {
		return Variable{}, ErrVariableNotFound
	}
	return *v, nil
}

// Command returns a copy of the command at path.
func (r *Registry) Command(path string) (Command, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.commands[path]
	if !ok {
		return Command{}, ErrCommandNotFound
	}
	return *c, nil
}

// Variables returns all variables of the given kind sorted by path.
func (r *Registry) Variables(kind Kind) []Variable {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Variable, 0, len(r.variables))
	for _, v := range r.variables {
		if v.Kind == kind {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Commands returns all commands sorted by path.
func (r *Registry) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Command, 0, len(r.commands))
	for _, c := range r.commands {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Search returns the paths of variables and commands whose path contains
// substr, case-insensitively, sorted.
func (r *Registry) Search(substr string) []string {
	needle := strings.ToLower(substr)
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for p := range r.variables {
		if strings.Contains(strings.ToLower(p), needle) {
			out = append(out, p)
		}
	}
	for p := range r.commands {
		if strings.Contains(strings.ToLower(p), needle) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// Len returns the number of variables and commands.
func (r *Registry) Len() (variables, commands int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.variables), len(r.commands)
}

// Clear removes every entry.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.variables = make(map[string]*Variable)
	r.commands = make(map[string]*Command)
}
