package services

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
)

// CatalogueTarget is the catalogue position of a variant evaluated against a predicate.
type CatalogueTarget struct {
	VariantID     string
	ProductID     string
	CategoryID    string
	CollectionIDs []string
}

// CatalogueMatcher compiles catalogue predicates to CEL and evaluates them per variant.
// Compiled programs are cached by expression text and safe for concurrent use.
type CatalogueMatcher struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewCatalogueMatcher builds the CEL environment declaring the variant attributes.
func NewCatalogueMatcher() (*CatalogueMatcher, error) {
	env, err := cel.NewEnv(
		cel.Variable("variant_id", cel.StringType),
		cel.Variable("product_id", cel.StringType),
		cel.Variable("category_id", cel.StringType),
		cel.Variable("collection_ids", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("catalogue matcher: build env: %w", err)
	}
	return &CatalogueMatcher{env: env, programs: make(map[string]cel.Program)}, nil
}

// Matches reports whether the target satisfies the predicate.
func (m *CatalogueMatcher) Matches(predicate CataloguePredicate, target CatalogueTarget) (bool, error) {
	expr := CatalogueExpression(predicate)
	if expr == "false" {
		return false, nil
	}
	program, err := m.program(expr)
	if err != nil {
		return false, err
	}
	collections := target.CollectionIDs
	if collections == nil {
		collections = []string{}
	}
	out, _, err := program.Eval(map[string]any{
		"variant_id":     target.VariantID,
		"product_id":     target.ProductID,
		"category_id":    target.CategoryID,
		"collection_ids": collections,
	})
	if err != nil {
		return false, fmt.Errorf("%w: evaluate catalogue predicate: %v", ErrDiscountRuleInvalid, err)
	}
	matched, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("%w: catalogue predicate returned %T", ErrDiscountRuleInvalid, out.Value())
	}
	return matched, nil
}

func (m *CatalogueMatcher) program(expr string) (cel.Program, error) {
	m.mu.RLock()
	program, ok := m.programs[expr]
	m.mu.RUnlock()
	if ok {
		return program, nil
	}

	ast, issues := m.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: compile catalogue predicate: %v", ErrDiscountRuleInvalid, issues.Err())
	}
	program, err := m.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: plan catalogue predicate: %v", ErrDiscountRuleInvalid, err)
	}

	m.mu.Lock()
	m.programs[expr] = program
	m.mu.Unlock()
	return program, nil
}

// CatalogueExpression renders a predicate as a CEL boolean expression. Membership lists and Or
// children are OR-ed together; And children form one conjunctive term of that disjunction.
func CatalogueExpression(predicate CataloguePredicate) string {
	var terms []string
	if term := membershipTerm("variant_id", predicate.VariantIDs); term != "" {
		terms = append(terms, term)
	}
	if term := membershipTerm("product_id", predicate.ProductIDs); term != "" {
		terms = append(terms, term)
	}
	if term := membershipTerm("category_id", predicate.CategoryIDs); term != "" {
		terms = append(terms, term)
	}
	if list := stringList(predicate.CollectionIDs); list != "" {
		terms = append(terms, fmt.Sprintf("collection_ids.exists(c, c in %s)", list))
	}
	for _, child := range predicate.Or {
		if expr := CatalogueExpression(child); expr != "false" {
			terms = append(terms, "("+expr+")")
		}
	}
	if len(predicate.And) > 0 {
		parts := make([]string, 0, len(predicate.And))
		for _, child := range predicate.And {
			parts = append(parts, "("+CatalogueExpression(child)+")")
		}
		terms = append(terms, "("+strings.Join(parts, " && ")+")")
	}
	if len(terms) == 0 {
		return "false"
	}
	return strings.Join(terms, " || ")
}

func membershipTerm(variable string, ids []string) string {
	list := stringList(ids)
	if list == "" {
		return ""
	}
	return variable + " in " + list
}

func stringList(ids []string) string {
	quoted := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		quoted = append(quoted, strconv.Quote(id))
	}
	if len(quoted) == 0 {
		return ""
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// collectProductIDs returns product IDs named directly anywhere in the predicate tree.
func collectProductIDs(predicate CataloguePredicate, into map[string]struct{}) {
	for _, id := range predicate.ProductIDs {
		if id = strings.TrimSpace(id); id != "" {
			into[id] = struct{}{}
		}
	}
	for _, child := range predicate.Or {
		collectProductIDs(child, into)
	}
	for _, child := range predicate.And {
		collectProductIDs(child, into)
	}
}

// ruleMatches trusts the indexed variant membership unless the rule is dirty, in which case the
// predicate is evaluated directly.
func ruleMatches(matcher *CatalogueMatcher, rule PromotionRule, target CatalogueTarget) (bool, error) {
	if !rule.VariantsDirty {
		for _, id := range rule.VariantIDs {
			if id == target.VariantID {
				return true, nil
			}
		}
		return false, nil
	}
	if matcher == nil {
		return false, fmt.Errorf("%w: catalogue matcher is not configured", ErrDiscountRuleInvalid)
	}
	return matcher.Matches(rule.Catalogue, target)
}
