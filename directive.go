package tempest

import "fmt"

// Directive is the per-field metadata that controls how a field maps onto
// physical attributes.
type Directive struct {
	Name       string   // Overrides the physical attribute name
	Names      []string // Replicates the value into every listed attribute
	Prefix     string   // Constant prefix for key-encoded attributes
	AllowEmpty bool     // Omit a nil prefixed value instead of writing the bare prefix
	Required   bool     // Fail decoding when the attribute is absent
}

// DirectiveOption configures a Directive.
type DirectiveOption func(*Directive)

// Name maps the field onto a physical attribute with a different name.
func Name(name string) DirectiveOption {
	return func(d *Directive) { d.Name = name }
}

// Names replicates the field into several physical attributes. The first
// name is the one read back when decoding.
func Names(names ...string) DirectiveOption {
	return func(d *Directive) { d.Names = append(d.Names, names...) }
}

// Prefix sets the constant prefix written before the field value.
func Prefix(prefix string) DirectiveOption {
	return func(d *Directive) { d.Prefix = prefix }
}

// AllowEmpty leaves a nil prefixed field out of the row entirely. A pointer
// field holding "" is omitted too, since the bare prefix decodes to nil.
func AllowEmpty() DirectiveOption {
	return func(d *Directive) { d.AllowEmpty = true }
}

// Required makes decoding fail when the attribute is absent from the row.
func Required() DirectiveOption {
	return func(d *Directive) { d.Required = true }
}

func newDirective(opts []DirectiveOption) Directive {
	var d Directive
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// declared reports whether the directive carries any naming or encoding metadata.
func (d Directive) declared() bool {
	return d.Name != "" || len(d.Names) > 0 || d.Prefix != "" || d.AllowEmpty
}

// equal compares naming and encoding metadata.
func (d Directive) equal(o Directive) bool {
	if d.Name != o.Name || d.Prefix != o.Prefix || d.AllowEmpty != o.AllowEmpty {
		return false
	}
	if len(d.Names) != len(o.Names) {
		return false
	}
	for i := range d.Names {
		if d.Names[i] != o.Names[i] {
			return false
		}
	}
	return true
}

// resolve returns the physical attribute names for field. The error, if
// any, is the message of a binding error of the returned kind.
func (d Directive) resolve(field string) ([]string, BindingErrorKind, error) {
	if d.Name != "" && len(d.Names) > 0 {
		return nil, AmbiguousDirective, fmt.Errorf("declare either name %q or names %v, not both", d.Name, d.Names)
	}
	if len(d.Names) > 0 {
		seen := make(map[string]struct{}, len(d.Names))
		for _, name := range d.Names {
			if name == "" {
				return nil, UnknownAttribute, fmt.Errorf("empty attribute name in names %v", d.Names)
			}
			if _, ok := seen[name]; ok {
				return nil, DuplicateAttribute, fmt.Errorf("attribute %q listed twice", name)
			}
			seen[name] = struct{}{}
		}
		return append([]string(nil), d.Names...), 0, nil
	}
	if d.Name != "" {
		return []string{d.Name}, 0, nil
	}
	return []string{field}, 0, nil
}

// checkPrefix enforces the prefix rules for a field whose resolved names are
// names. A prefix is mandatory on fields that back a range key and forbidden
// on fields that back no key at all.
func (d Directive) checkPrefix(shape Shape, names []string) (string, BindingErrorKind, error) {
	isKey := false
	for _, name := range names {
		if shape.isKeyAttribute(name) {
			isKey = true
		}
		if d.Prefix == "" && shape.requiresPrefix(name) {
			return name, MissingPrefix, fmt.Errorf("attribute %q is a range key and needs a prefix", name)
		}
	}
	if d.Prefix != "" && !isKey {
		return names[0], UnexpectedPrefix, fmt.Errorf("prefix %q is only allowed on key attributes", d.Prefix)
	}
	return "", 0, nil
}
