// Package ast defines the AST contract this engine consumes from the
// parser: the shape of a parsed Datalog statement. The parser and surface
// syntax are out of core-engine scope; this package specifies only what a
// parser must hand back.
package ast

import "github.com/inputlayer/inputlayer/pkg/value"

// LoadMode controls how Load merges into an existing relation.
type LoadMode string

const (
	LoadStrict  LoadMode = "strict"
	LoadReplace LoadMode = "replace"
	LoadMerge   LoadMode = "merge"
)

// Column describes one column of a declared schema.
type Column struct {
	Name        string
	Type        value.Kind
	Constraints []Constraint
}

// ConstraintKind enumerates the optional per-column constraints of spec §9
// Open Questions: constraints are optional, enforced only when declared.
type ConstraintKind string

const (
	ConstraintKey      ConstraintKind = "key"
	ConstraintUnique   ConstraintKind = "unique"
	ConstraintNotEmpty ConstraintKind = "not_empty"
	ConstraintRange    ConstraintKind = "range"
)

// Constraint is one declared column constraint. Min/Max are only
// meaningful for ConstraintRange.
type Constraint struct {
	Kind ConstraintKind
	Min  value.Value
	Max  value.Value
}

// Term is a variable, a constant Value, or the anonymous placeholder `_`.
type Term struct {
	// Variable holds the (uppercase) variable name, or "" if this term is
	// a constant or anonymous.
	Variable string
	// Anonymous is true for `_`.
	Anonymous bool
	// Const holds the bound constant when Variable == "" && !Anonymous.
	Const value.Value
}

func VarTerm(name string) Term     { return Term{Variable: name} }
func ConstTerm(v value.Value) Term { return Term{Const: v} }
func AnonTerm() Term               { return Term{Anonymous: true} }

func (t Term) IsVariable() bool { return t.Variable != "" }
func (t Term) IsConst() bool    { return !t.Anonymous && t.Variable == "" }

// Atom is a predicate applied to terms, e.g. edge(X, Y).
type Atom struct {
	Predicate string
	Args      []Term
}

// CompareOp enumerates comparison operators usable in a Compare literal.
type CompareOp string

const (
	OpEq CompareOp = "="
	OpNe CompareOp = "!="
	OpLt CompareOp = "<"
	OpLe CompareOp = "<="
	OpGt CompareOp = ">"
	OpGe CompareOp = ">="
)

// Expr is an arithmetic expression tree used by body literals (Bind,
// comparisons, builtins, aggregates); head atom arguments are plain Terms.
type Expr struct {
	// Kind is one of: "term", "add", "sub", "mul", "div", "neg", "call".
	Kind string
	Term Term
	// Left/Right for binary ops, Left alone for "neg".
	Left  *Expr
	Right *Expr
	// Call is the builtin name for Kind == "call" (e.g. "cosine").
	Call string
	Args []Expr
}

// LiteralKind enumerates the possible body literal shapes.
type LiteralKind string

const (
	LiteralPositive  LiteralKind = "positive"
	LiteralNegative  LiteralKind = "negative"
	LiteralCompare   LiteralKind = "compare"
	LiteralBind      LiteralKind = "bind"
	LiteralBuiltin   LiteralKind = "builtin"
	LiteralAggregate LiteralKind = "aggregate"
)

// Literal is one element of a clause body.
type Literal struct {
	Kind LiteralKind

	// LiteralPositive / LiteralNegative
	Atom Atom

	// LiteralCompare
	CompareOp CompareOp
	Lhs       Expr
	Rhs       Expr

	// LiteralBind: Var = Expr
	BindVar  string
	BindExpr Expr

	// LiteralBuiltin: name(args...) used as a boolean body condition
	// (distinct from a Bind, which produces a value).
	BuiltinName string
	BuiltinArgs []Expr

	// LiteralAggregate: AggResultVar = Agg(AggExpr) over AggBody, grouped
	// by whichever variables AggBody shares with the rest of the clause.
	// TopK/TopKThreshold/WithinRadius carry their extra parameter in
	// AggK/AggThreshold; the others ignore them.
	AggKind      AggregateKind
	AggResultVar string
	AggExpr      Expr
	AggBody      []Literal
	AggK         int
	AggThreshold value.Value
}

// Clause is head :- body.
type Clause struct {
	Head Atom
	Body []Literal
	// Text is the original surface syntax, retained so the catalog can
	// answer list_* queries and error messages with readable source
	// instead of only the structural AST.
	Text string
}

// AggregateKind enumerates the reduction operators of spec §4.4.
type AggregateKind string

const (
	AggCount         AggregateKind = "count"
	AggSum           AggregateKind = "sum"
	AggMin           AggregateKind = "min"
	AggMax           AggregateKind = "max"
	AggAvg           AggregateKind = "avg"
	AggCountDistinct AggregateKind = "count_distinct"
	AggTopK          AggregateKind = "top_k"
	AggTopKThreshold AggregateKind = "top_k_threshold"
	AggWithinRadius  AggregateKind = "within_radius"
)

// StatementKind enumerates the Statement variants of spec §6.
type StatementKind string

const (
	StmtInsertFact        StatementKind = "insert_fact"
	StmtDeleteFact         StatementKind = "delete_fact"
	StmtConditionalDelete  StatementKind = "conditional_delete"
	StmtPersistentRule     StatementKind = "persistent_rule"
	StmtSessionRule        StatementKind = "session_rule"
	StmtQuery              StatementKind = "query"
	StmtSchemaDecl         StatementKind = "schema_decl"
	StmtIndexCreate        StatementKind = "index_create"
	StmtIndexDrop          StatementKind = "index_drop"
	StmtIndexRebuild       StatementKind = "index_rebuild"
	StmtRuleEdit           StatementKind = "rule_edit"
	StmtRuleRemove         StatementKind = "rule_remove"
	StmtRuleClear          StatementKind = "rule_clear"
	StmtKgCreate           StatementKind = "kg_create"
	StmtKgUse              StatementKind = "kg_use"
	StmtKgDrop             StatementKind = "kg_drop"
	StmtLoad               StatementKind = "load"
	StmtCompact            StatementKind = "compact"
	StmtStatus             StatementKind = "status"
)

// VectorMetric enumerates the HNSW distance metrics of spec §4.8.
type VectorMetric string

const (
	MetricCosine    VectorMetric = "cosine"
	MetricEuclidean VectorMetric = "euclidean"
	MetricDot       VectorMetric = "dot"
	MetricManhattan VectorMetric = "manhattan"
)

// IndexSpec describes an IndexCreate statement's parameters.
type IndexSpec struct {
	Name          string
	Relation      string
	Column        string
	Metric        VectorMetric
	M             int
	EfConstruction int
}

// OrderBy describes a query's post-projection ordering.
type OrderBy struct {
	Column     string
	Descending bool
}

// Statement is one parsed top-level operation.
type Statement struct {
	Kind StatementKind

	// StmtInsertFact / StmtDeleteFact
	Relation string
	Tuples   []value.Tuple

	// StmtConditionalDelete
	Variables []string
	Body      []Literal

	// StmtPersistentRule / StmtSessionRule / StmtRuleEdit (replace)
	Clause Clause
	// ClauseID identifies the target clause for RuleEdit/RuleRemove.
	ClauseID string

	// StmtQuery
	QueryBody   []Literal
	Project     []string
	Order       []OrderBy
	Limit       int
	Offset      int

	// StmtSchemaDecl
	Columns []Column

	// Index statements
	Index IndexSpec

	// StmtKgCreate / StmtKgUse / StmtKgDrop
	KnowledgeGraph string

	// StmtLoad
	Path string
	Mode LoadMode
}
