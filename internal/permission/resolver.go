package permission

// Source supplies per-action level overrides for one configuration scope.
// Implementations must read their backing store fresh on every call so a
// config edit takes effect on the next resolution.
type Source interface {
	Levels() map[string]Level
}

// ForceSource supplies the override of an active action force, if any.
type ForceSource interface {
	ForceOverride(name string) (Level, bool)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func() map[string]Level

// Levels implements Source.
func (f SourceFunc) Levels() map[string]Level { return f() }

// Resolver computes effective permission levels by layering, in increasing
// precedence: the action's built-in default, the global scope, the project
// scope, and an active force override.
type Resolver struct {
	global  Source
	project Source
	force   ForceSource
}

// NewResolver creates a resolver over the two config scopes. Either source
// may be nil. The force source is attached later because the force
// controller is constructed after the resolver.
func NewResolver(global, project Source) *Resolver {
	return &Resolver{global: global, project: project}
}

// SetForceSource attaches the active-force layer.
func (r *Resolver) SetForceSource(fs ForceSource) {
	r.force = fs
}

// Effective returns the permission for the named action given its built-in
// default. The result is a pure function of the four layers at call time.
func (r *Resolver) Effective(name string, def Level) Level {
	level := r.EffectiveIgnoringForce(name, def)
	if r.force != nil {
		if l, ok := r.force.ForceOverride(name); ok && l.Valid() {
			level = l
		}
	}
	return level
}

// EffectiveIgnoringForce resolves the three config layers without the force
// layer. The force controller uses this to evaluate a prospective override
// before it is installed.
func (r *Resolver) EffectiveIgnoringForce(name string, def Level) Level {
	level := def
	if !level.Valid() {
		level = Off
	}
	if r.global != nil {
		if l, ok := r.global.Levels()[name]; ok && l.Valid() {
			level = l
		}
	}
	if r.project != nil {
		if l, ok := r.project.Levels()[name]; ok && l.Valid() {
			level = l
		}
	}
	return level
}
