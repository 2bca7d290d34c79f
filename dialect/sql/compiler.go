package sql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/loomquery/loom/dialect"
)

// Compile renders q into a SQL string and its left-to-right parameter
// vector for the given dialect name (dialect.MySQL, dialect.Postgres, or
// dialect.SQLite). The compiler emits `?` placeholders universally and
// rewrites them to `$1, $2, …` for Postgres as the final step.
func (q *IR) Compile(dialectName string) (string, []any, error) {
	var (
		sb   strings.Builder
		args []any
	)
	switch q.Stmt {
	case StmtSelect:
		args = q.compileSelect(&sb, dialectName)
	case StmtInsert:
		args = q.compileInsert(&sb, dialectName)
	case StmtUpdate:
		args = q.compileUpdate(&sb)
	case StmtDelete:
		args = q.compileDelete(&sb)
	default:
		return "", nil, fmt.Errorf("dialect/sql: unknown statement kind %d", q.Stmt)
	}
	out := sb.String()
	if dialectName == dialect.Postgres {
		out = rewritePostgresPlaceholders(out)
	}
	return out, args, nil
}

// compileSelect renders `SELECT [DISTINCT] cols FROM table [joins] [WHERE]
// [GROUP BY] [HAVING] [ORDER BY] [LIMIT] [OFFSET]`.
func (q *IR) compileSelect(sb *strings.Builder, dialectName string) []any {
	sb.WriteString("SELECT ")
	if q.Distinct {
		sb.WriteString("DISTINCT ")
	}
	sb.WriteString(strings.Join(q.SelectColumns, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(q.Table)

	for _, j := range q.Joins {
		fmt.Fprintf(sb, " %s %s ON %s %s %s", j.Kind, j.Table, j.LeftCol, j.Op, j.RightCol)
	}

	var args []any
	args = writeWhereClause(sb, q.Wheres, args)
	if len(q.GroupBys) > 0 {
		sb.WriteString(" GROUP BY ")
		sb.WriteString(strings.Join(q.GroupBys, ", "))
	}
	args = writeHavingClause(sb, q.Havings, args)
	if len(q.Orders) > 0 {
		sb.WriteString(" ORDER BY ")
		parts := make([]string, len(q.Orders))
		for i, o := range q.Orders {
			parts[i] = fmt.Sprintf("%s %s", o.Column, o.Direction)
		}
		sb.WriteString(strings.Join(parts, ", "))
	}
	if q.Limit != nil {
		fmt.Fprintf(sb, " LIMIT %d", *q.Limit)
	}
	if q.Offset != nil {
		fmt.Fprintf(sb, " OFFSET %d", *q.Offset)
	}
	return args
}

// compileInsert renders `INSERT INTO table (cols) VALUES (?,?), (?,?), …`
// plus the dialect-specific identity-returning clause.
func (q *IR) compileInsert(sb *strings.Builder, dialectName string) []any {
	var args []any
	fmt.Fprintf(sb, "INSERT INTO %s (%s) VALUES ", q.Table, strings.Join(q.InsertColumns, ", "))
	rowSQL := "(" + strings.TrimRight(strings.Repeat("?, ", len(q.InsertColumns)), ", ") + ")"
	rows := make([]string, len(q.InsertRows))
	for i, row := range q.InsertRows {
		rows[i] = rowSQL
		args = append(args, row...)
	}
	sb.WriteString(strings.Join(rows, ", "))
	if dialectName == dialect.Postgres {
		sb.WriteString(" RETURNING *")
	}
	return args
}

// compileUpdate renders `UPDATE table SET c1=?, c2=c2+? [WHERE …]`.
func (q *IR) compileUpdate(sb *strings.Builder) []any {
	fmt.Fprintf(sb, "UPDATE %s SET ", q.Table)
	parts := make([]string, len(q.UpdateSet))
	var args []any
	for i, a := range q.UpdateSet {
		parts[i] = a.String()
		args = append(args, a.Value)
	}
	sb.WriteString(strings.Join(parts, ", "))
	return writeWhereClause(sb, q.Wheres, args)
}

// compileDelete renders `DELETE FROM table [WHERE …]`.
func (q *IR) compileDelete(sb *strings.Builder) []any {
	fmt.Fprintf(sb, "DELETE FROM %s", q.Table)
	return writeWhereClause(sb, q.Wheres, nil)
}

// writeWhereClause appends ` WHERE p1 AND p2 OR p3 …` (connector on the
// first predicate is ignored) and returns args with each predicate's
// parameters appended in left-to-right order.
func writeWhereClause(sb *strings.Builder, preds []Predicate, args []any) []any {
	if len(preds) == 0 {
		return args
	}
	sb.WriteString(" WHERE ")
	return writePredicates(sb, preds, args)
}

// writeHavingClause appends ` HAVING p1 AND p2 …`.
func writeHavingClause(sb *strings.Builder, preds []Predicate, args []any) []any {
	if len(preds) == 0 {
		return args
	}
	sb.WriteString(" HAVING ")
	return writePredicates(sb, preds, args)
}

func writePredicates(sb *strings.Builder, preds []Predicate, args []any) []any {
	for i, p := range preds {
		if i > 0 {
			sb.WriteString(" ")
			sb.WriteString(string(p.Connector))
			sb.WriteString(" ")
		}
		args = writePredicate(sb, p, args)
	}
	return args
}

func writePredicate(sb *strings.Builder, p Predicate, args []any) []any {
	switch p.Kind {
	case PredBasic:
		fmt.Fprintf(sb, "%s %s ?", p.Column, p.Op)
		args = append(args, p.Value)
	case PredIn:
		fmt.Fprintf(sb, "%s IN (%s)", p.Column, placeholders(len(p.Values)))
		args = append(args, p.Values...)
	case PredNotIn:
		fmt.Fprintf(sb, "%s NOT IN (%s)", p.Column, placeholders(len(p.Values)))
		args = append(args, p.Values...)
	case PredIsNull:
		fmt.Fprintf(sb, "%s IS NULL", p.Column)
	case PredIsNotNull:
		fmt.Fprintf(sb, "%s IS NOT NULL", p.Column)
	case PredBetween:
		fmt.Fprintf(sb, "%s BETWEEN ? AND ?", p.Column)
		args = append(args, p.Values[0], p.Values[1])
	case PredLike:
		fmt.Fprintf(sb, "%s LIKE ?", p.Column)
		args = append(args, p.Value)
	case PredCountHaving:
		fmt.Fprintf(sb, "COUNT(%s) %s ?", p.Column, p.Op)
		args = append(args, p.Value)
	case PredRaw:
		sb.WriteString("(")
		sb.WriteString(p.Raw)
		sb.WriteString(")")
		args = append(args, p.RawArgs...)
	}
	return args
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	return strings.TrimRight(strings.Repeat("?, ", n), ", ")
}

// rewritePostgresPlaceholders turns the universal `?` stream into `$1,
// $2, …` left to right, the one Postgres-specific emission difference
// the compiler applies after otherwise dialect-neutral rendering.
func rewritePostgresPlaceholders(s string) string {
	var sb strings.Builder
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '?' {
			n++
			sb.WriteString("$")
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

// CompileFragment renders a SELECT IR to SQL text using the universal `?`
// placeholder form, skipping the dialect-specific placeholder rewrite
// Compile applies. Used to embed one IR's text verbatim inside another
// (a whereHas/has/withCount correlated subquery): the placeholders get
// renumbered exactly once, by the outer IR's own Compile call, after the
// fragment has been spliced in as a WhereRaw predicate.
func (q *IR) CompileFragment() (string, []any) {
	var sb strings.Builder
	args := q.compileSelect(&sb, "")
	return sb.String(), args
}

// CompileIncrement renders `UPDATE table SET col = col +/- ? [WHERE …]`
// for the atomic increment/decrement operation. delta
// is always parameterized; col on the right-hand side is always emitted
// as a bare identifier, never a placeholder, preserving atomicity under
// concurrent writers.
func CompileIncrement(dialectName, table, col, op string, delta any, wheres []Predicate) (string, []any, error) {
	ir := New(table)
	ir.Stmt = StmtUpdate
	ir.UpdateSet = []Assignment{{Column: col, Value: delta, ColumnOp: op}}
	ir.Wheres = wheres
	return ir.Compile(dialectName)
}
