package flows

import "github.com/genieflow/genieflow/internal/template"

func leafExpr(path string) *template.Expr {
	return template.Leaf(path)
}

// parallelSummaryExpr builds S3's Parallel group: two branches joined
// into {"ingredients": ..., "benefits": ...} by combine_dict.
func parallelSummaryExpr() *template.Expr {
	return template.Parallel(
		template.ParallelBranch{Key: "ingredients", Expr: template.Leaf("qa_invoker/ingredients.tmpl")},
		template.ParallelBranch{Key: "benefits", Expr: template.Leaf("qa_invoker/benefits.tmpl")},
	)
}

// sequenceExpr builds S4's Sequence: the second leaf reads
// parsed_previous_result.x from the first's JSON output via chain_ctx.
func sequenceExpr() *template.Expr {
	return template.Sequence(
		template.Leaf("qa_invoker/seq_a.tmpl"),
		template.Leaf("qa_invoker/seq_b.tmpl"),
	)
}
