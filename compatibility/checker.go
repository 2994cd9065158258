package compatibility

import (
	"fmt"
)

// Prior is an existing version a candidate is compared with
type Prior struct {
	Version    int
	Definition []byte
}

// DefinitionError is returned when raw bytes are not a valid definition of the declared format
type DefinitionError struct {
	Format Format
	// Version is set when the invalid definition is an already stored prior
	Version int
	Err     error
}

func (e *DefinitionError) Error() string {
	if e.Version > 0 {
		return fmt.Sprintf(`invalid %s definition (version %d): %s`, e.Format, e.Version, e.Err)
	}

	return fmt.Sprintf(`invalid %s definition: %s`, e.Format, e.Err)
}

func (e *DefinitionError) Unwrap() error {
	return e.Err
}

// Checker applies a compatibility mode on top of the format differs
type Checker struct {
	differs map[Format]Differ
}

// NewChecker returns a Checker with the given differs. With no arguments the
// differs of all built-in formats are used.
func NewChecker(differs ...Differ) *Checker {
	if len(differs) == 0 {
		differs = []Differ{NewJSONDiffer(), NewProtobufDiffer(), NewAvroDiffer(), NewBytesDiffer()}
	}

	c := &Checker{differs: make(map[Format]Differ, len(differs))}
	for _, d := range differs {
		c.differs[d.Format()] = d
	}

	return c
}

// Differ returns the differ registered for format
func (c *Checker) Differ(format Format) (Differ, error) {
	d, ok := c.differs[format]
	if !ok {
		return nil, fmt.Errorf(`no differ registered for format [%s]`, format)
	}

	return d, nil
}

// Validate parses raw with the differ of format
func (c *Checker) Validate(format Format, raw []byte) (Definition, error) {
	d, err := c.Differ(format)
	if err != nil {
		return nil, err
	}

	def, err := d.Parse(raw)
	if err != nil {
		return nil, &DefinitionError{Format: format, Err: err}
	}

	return def, nil
}

// Check compares candidate with priors (ordered oldest first) under mode.
// Non-transitive modes only look at the last prior.
func (c *Checker) Check(format Format, mode Mode, candidate []byte, priors []Prior) (Result, error) {
	if !mode.Valid() {
		return Result{}, fmt.Errorf(`unknown compatibility mode [%s]`, mode)
	}

	d, err := c.Differ(format)
	if err != nil {
		return Result{}, err
	}

	cand, err := d.Parse(candidate)
	if err != nil {
		return Result{}, &DefinitionError{Format: format, Err: err}
	}

	if mode == ModeNone || len(priors) == 0 {
		return Result{Compatible: true}, nil
	}

	against := priors
	if !mode.Transitive() {
		against = priors[len(priors)-1:]
	}

	directions := mode.Directions()
	res := Result{Compatible: true}
	// newest first so the most relevant violations lead
	for i := len(against) - 1; i >= 0; i-- {
		p := against[i]
		prior, err := d.Parse(p.Definition)
		if err != nil {
			return Result{}, &DefinitionError{Format: format, Version: p.Version, Err: err}
		}

		for _, ch := range d.Diff(prior, cand) {
			if ch.Breaks&directions == 0 {
				continue
			}

			res.Violations = append(res.Violations, Violation{
				Kind:    ch.Kind,
				Path:    ch.Path,
				Detail:  ch.Detail,
				Version: p.Version,
			})
		}
	}

	res.Compatible = len(res.Violations) == 0

	return res, nil
}
