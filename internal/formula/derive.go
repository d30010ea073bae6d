package formula

import (
	"fmt"

	"go.uber.org/zap"

	"playbook-engine/internal/models"
)

// SortDerivations orders derived columns so each one follows the derived columns it
// depends on. A cycle returns ErrCircularDependency.
func SortDerivations(cols []models.DerivedColumn) ([]models.DerivedColumn, error) {
	byName := make(map[string]models.DerivedColumn, len(cols))
	deps := make(map[string][]string, len(cols))
	for _, c := range cols {
		if _, dup := byName[c.Name]; dup {
			return nil, fmt.Errorf("derived column %q defined twice", c.Name)
		}
		byName[c.Name] = c
		deps[c.Name] = c.Dependencies
	}
	order, err := BuildDependencyGraph(deps).TopologicalOrder()
	if err != nil {
		return nil, err
	}
	out := make([]models.DerivedColumn, len(order))
	for i, name := range order {
		out[i] = byName[name]
	}
	return out, nil
}

// DeriveEngine materializes derived columns on a row set.
type DeriveEngine struct {
	logger *zap.Logger
}

// NewDeriveEngine creates a DeriveEngine. A nil logger discards output.
func NewDeriveEngine(logger *zap.Logger) *DeriveEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeriveEngine{logger: logger}
}

// Apply returns copies of rows with every derived column added. Formula or ordering
// problems are returned as errors before any row is touched; per-row evaluation
// failures are recorded, the cell is set to nil and processing continues.
func (d *DeriveEngine) Apply(rows []models.Row, cols []models.DerivedColumn) ([]models.Row, []models.RowError, error) {
	ordered, err := SortDerivations(cols)
	if err != nil {
		return nil, nil, err
	}
	exprs := make([]*Expr, len(ordered))
	for i, c := range ordered {
		e, err := Parse(c.Formula)
		if err != nil {
			return nil, nil, fmt.Errorf("derived column %s: %w", c.Name, err)
		}
		exprs[i] = e
	}

	out := make([]models.Row, len(rows))
	for i, r := range rows {
		cp := make(models.Row, len(r)+len(ordered))
		for k, v := range r {
			cp[k] = v
		}
		out[i] = cp
	}

	var rowErrors []models.RowError
	for i, c := range ordered {
		failed := 0
		for idx, row := range out {
			v, err := exprs[i].Eval(RowEnv(row))
			if err != nil {
				row[c.Name] = nil
				failed++
				rowErrors = append(rowErrors, models.RowError{Column: c.Name, RowIndex: idx, Error: err.Error()})
				d.logger.Debug("derivation row error",
					zap.String("column", c.Name), zap.Int("row", idx), zap.Error(err))
				continue
			}
			row[c.Name] = v
		}
		if failed > 0 {
			d.logger.Warn("derived column had row errors",
				zap.String("column", c.Name), zap.Int("failed_rows", failed), zap.Int("rows", len(out)))
		}
	}
	return out, rowErrors, nil
}
