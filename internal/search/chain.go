// chain.go lowers chained and reverse-chained (_has) conditions.
//
// A forward chain hops from a reference parameter to the referenced
// resource and applies the tail there; an untyped chain tries every catalog
// target that defines the tail, ORing the alternatives. _has walks the same
// join in reverse. Both only ever see current, non-deleted referents.

package search

import (
	"fmt"
	"strings"

	"github.com/jpl-au/fhird/internal/catalog"
	"github.com/jpl-au/fhird/internal/fhir"
)

func (l *lowerer) chain(c *Cond, resType, alias string) (frag, error) {
	p := c.Param
	var ors []frag
	for _, target := range l.chainTargets(p, c.Chain.TargetType) {
		if !l.e.cat.Supports(target) {
			continue
		}
		f, ok, err := l.chainHop(c, p, target, alias)
		if err != nil {
			return frag{}, err
		}
		if ok {
			ors = append(ors, f)
		}
	}
	if len(ors) == 0 {
		return frag{}, fhir.Errorf(fhir.KindUnsupported,
			"chained parameter %q is not defined on any target of %s.%s", c.Chain.Tail.Name, resType, c.Name)
	}
	return orFrags(ors), nil
}

// chainTargets picks the target types one hop will try.
func (l *lowerer) chainTargets(p *catalog.Parameter, restriction string) []string {
	if restriction != "" {
		return []string{restriction}
	}
	if len(p.Targets) > 0 {
		return p.Targets
	}
	return l.e.cat.Types()
}

// chainHop builds the EXISTS for one candidate target type. Targets that do
// not define the tail parameter report ok=false rather than erroring, so an
// untyped chain can skip them.
func (l *lowerer) chainHop(c *Cond, p *catalog.Parameter, target, alias string) (frag, bool, error) {
	tail := *c.Chain.Tail
	tp, ok := l.e.cat.Lookup(target, tail.Name)
	if !ok {
		return frag{}, false, nil
	}
	if tail.Chain != nil && tp.Type != catalog.Reference {
		return frag{}, false, nil
	}
	if tail.Chain == nil && !tp.AllowsModifier(tail.Modifier) {
		return frag{}, false, nil
	}
	tail.Param = tp

	ra := l.next("r")
	ca := l.next("c")
	tf, err := l.cond(&tail, target, ca)
	if err != nil {
		return frag{}, false, err
	}

	var sb strings.Builder
	args := []any{p.Name, target}
	fmt.Fprintf(&sb,
		"EXISTS (SELECT 1 FROM ref_index %s JOIN current %s ON %s.type = %s.target_type AND %s.id = %s.target_id AND %s.deleted = 0 WHERE %s.type = %s.type AND %s.id = %s.id AND %s.param = ? AND %s.target_type = ?",
		ra, ca, ca, ra, ca, ra, ca, ra, alias, ra, alias, ra, ra)
	if !tf.empty() {
		sb.WriteString(" AND (")
		sb.WriteString(tf.sql)
		sb.WriteString(")")
		args = append(args, tf.args...)
	}
	sb.WriteString(")")
	return frag{sql: sb.String(), args: args}, true, nil
}

// has lowers _has:Type:refParam:tail. The candidate matches when some
// current Type resource references it through refParam and itself matches
// the tail, which may be another _has.
func (l *lowerer) has(c *Cond, alias string) (frag, error) {
	h := c.Has
	ca := l.next("c")
	ra := l.next("r")

	tail := *h.Tail
	var tf frag
	var err error
	if tail.Has != nil {
		tf, err = l.has(&tail, ca)
	} else {
		tp, ok := l.e.cat.Lookup(h.Type, tail.Name)
		if !ok {
			return frag{}, fhir.Errorf(fhir.KindUnsupported, "search parameter %q is not supported on %s", tail.Name, h.Type)
		}
		if !tp.AllowsModifier(tail.Modifier) {
			return frag{}, fhir.Errorf(fhir.KindUnsupported, "modifier :%s is not supported on %s.%s", tail.Modifier, h.Type, tail.Name)
		}
		tail.Param = tp
		tf, err = l.direct(&tail, h.Type, ca)
	}
	if err != nil {
		return frag{}, err
	}

	var sb strings.Builder
	args := []any{h.RefParam, h.Type}
	fmt.Fprintf(&sb,
		"EXISTS (SELECT 1 FROM current %s JOIN ref_index %s ON %s.type = %s.type AND %s.id = %s.id AND %s.param = ? WHERE %s.type = ? AND %s.deleted = 0 AND %s.target_type = %s.type AND %s.target_id = %s.id",
		ca, ra, ra, ca, ra, ca, ra, ca, ca, ra, alias, ra, alias)
	if !tf.empty() {
		sb.WriteString(" AND (")
		sb.WriteString(tf.sql)
		sb.WriteString(")")
		args = append(args, tf.args...)
	}
	sb.WriteString(")")
	return frag{sql: sb.String(), args: args}, nil
}
