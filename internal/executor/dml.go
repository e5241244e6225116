package executor

import (
	"fmt"
	"log"

	"github.com/zvdb/zvdb/internal/storage"
)

// Insert runs the INSERT atomicity shell of spec.md §4.7: reserve a
// row id, log the intent, mutate the table, maintain the HNSW and
// B-tree indexes, registering a compensating action after each
// successful step so a later failure unwinds in reverse order. tx may
// be nil for auto-commit.
func (e *Engine) Insert(tx *Tx, tableName string, values storage.Row) (uint64, error) {
	t, autoCommit, err := e.resolveTx(tx)
	if err != nil {
		return 0, err
	}

	table, err := e.db.Table(tableName)
	if err != nil {
		return 0, finish(t, autoCommit, err)
	}

	if err := validateDimensions(table, values); err != nil {
		return 0, finish(t, autoCommit, err)
	}

	rowID := table.ReserveNextID()
	values = values.Clone()
	values.ID = rowID

	var rollbacks []func()
	runRollbacks := func() {
		for i := len(rollbacks) - 1; i >= 0; i-- {
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Printf("CRITICAL: insert rollback action panicked for table=%s row=%d: %v", tableName, rowID, r)
					}
				}()
				rollbacks[i]()
			}()
		}
	}

	wal := e.db.WAL()
	if wal != nil {
		if _, err := wal.Append(storage.Record{
			Type:      storage.RecInsertRow,
			TxID:      t.id,
			RowID:     rowID,
			TableName: tableName,
			Data:      storage.EncodeRow(values),
		}); err != nil {
			return 0, finish(t, autoCommit, err)
		}
		if err := wal.Flush(); err != nil {
			return 0, finish(t, autoCommit, err)
		}
	}
	if err := e.fault(StageAfterWAL, tableName, rowID); err != nil {
		return 0, finish(t, autoCommit, err)
	}

	// step 4: install the version chain. R1 undoes this.
	table.InsertWithID(rowID, values, t.id, 0)
	rollbacks = append(rollbacks, func() { table.PhysicalDelete(rowID) })

	if err := e.fault(StageAfterInsert, tableName, rowID); err != nil {
		runRollbacks()
		return 0, finish(t, autoCommit, err)
	}

	// step 5: HNSW. R2 undoes this, then R1 on a later failure.
	if col, ok := embeddingColumn(table); ok {
		vec := values.Get(col.Name).Embed
		h := e.db.HNSWForDim(col.Dim)
		h.Insert(vec, rowID)
		rollbacks = append(rollbacks, func() {
			if err := h.RemoveNode(rowID); err != nil {
				log.Printf("CRITICAL: insert rollback could not remove HNSW node for table=%s row=%d: %v", tableName, rowID, err)
			}
		})

		if err := e.fault(StageAfterHNSW, tableName, rowID); err != nil {
			runRollbacks()
			return 0, finish(t, autoCommit, err)
		}
	}

	// step 6: B-tree indexes on this table.
	for _, idx := range e.db.IndexesOnTable(tableName) {
		idx := idx
		key := values.Get(idx.Column)
		idx.Insert(key, rowID)
		rollbacks = append(rollbacks, func() { idx.Delete(key, rowID) })
	}
	if err := e.fault(StageAfterBTree, tableName, rowID); err != nil {
		runRollbacks()
		return 0, finish(t, autoCommit, err)
	}

	return rowID, finish(t, autoCommit, nil)
}

// validateDimensions rejects INSERTs whose embedding column length
// disagrees with the column's declared dimension (spec.md §9
// supplemented gap: "the source does not reject... implementers
// SHOULD reject with TypeMismatch").
func validateDimensions(table *storage.Table, values storage.Row) error {
	for _, col := range table.Columns {
		if col.Type != storage.ColEmbedding {
			continue
		}
		v := values.Get(col.Name)
		if v.IsNull() {
			continue
		}
		if v.Kind != storage.KindEmbedding {
			return &storage.Error{Code: storage.CodeTypeMismatch, Msg: fmt.Sprintf("column %q expects an embedding", col.Name)}
		}
		if len(v.Embed) != col.Dim {
			return &storage.Error{Code: storage.CodeTypeMismatch, Msg: fmt.Sprintf("column %q expects dimension %d, got %d", col.Name, col.Dim, len(v.Embed))}
		}
	}
	return nil
}

func embeddingColumn(table *storage.Table) (storage.Column, bool) {
	for _, c := range table.Columns {
		if c.Type == storage.ColEmbedding {
			return c, true
		}
	}
	return storage.Column{}, false
}

// Update runs the UPDATE atomicity shell of spec.md §4.7 for every row
// matching pred. Multiple SET assignments are applied as a single
// version via storage.Table.UpdateMulti. Returns the number of rows
// actually updated; a per-row SerializationFailure is swallowed (the
// row is left as-is, since spec.md's caller-retries model applies per
// row, not to the whole statement) unless every candidate row fails,
// in which case the last error is returned.
func (e *Engine) Update(tx *Tx, tableName string, sets map[string]storage.ColumnValue, pred Predicate) (int, error) {
	t, autoCommit, err := e.resolveTx(tx)
	if err != nil {
		return 0, err
	}

	table, err := e.db.Table(tableName)
	if err != nil {
		return 0, finish(t, autoCommit, err)
	}

	candidates, err := e.candidateRowIDs(table, t.snap, pred)
	if err != nil {
		return 0, finish(t, autoCommit, err)
	}

	wal := e.db.WAL()
	indexes := e.db.IndexesOnTable(tableName)
	embCol, hasEmb := embeddingColumn(table)

	updated := 0
	var lastErr error
	attempted := 0

	for _, rowID := range candidates {
		oldRow, ok := table.Get(rowID, t.snap, e.db.CLog())
		if !ok {
			continue
		}
		attempted++

		newRow := oldRow.Clone()
		for col, v := range sets {
			newRow.Values[col] = v.Clone()
		}

		if wal != nil {
			if _, err := wal.Append(storage.Record{
				Type:      storage.RecUpdateRow,
				TxID:      t.id,
				RowID:     rowID,
				TableName: tableName,
				Data: storage.EncodeUpdatePayload(storage.UpdatePayload{
					Old: oldRow, New: newRow,
				}),
			}); err != nil {
				lastErr = err
				continue
			}
			if err := wal.Flush(); err != nil {
				lastErr = err
				continue
			}
		}

		embeddingChanged := false
		var oldVec, newVec []float32
		var h *storage.HNSWIndex
		if hasEmb {
			if nv, set := sets[embCol.Name]; set {
				embeddingChanged = true
				oldVec = oldRow.Get(embCol.Name).Embed
				newVec = nv.Embed
				h = e.db.HNSWForDim(embCol.Dim)
				_ = h.RemoveNode(rowID)
				h.Insert(newVec, rowID)
			}
		}

		if err := table.UpdateMulti(rowID, sets, t.id, t.snap, e.db.CLog()); err != nil {
			if embeddingChanged {
				// best-effort undo: swap the vector back.
				_ = h.RemoveNode(rowID)
				h.Insert(oldVec, rowID)
			}
			lastErr = err
			continue
		}

		for _, idx := range indexes {
			oldKey := oldRow.Get(idx.Column)
			newKey := newRow.Get(idx.Column)
			if storage.Equal(oldKey, newKey) {
				continue
			}
			idx.Delete(oldKey, rowID)
			idx.Insert(newKey, rowID)
		}
		updated++
	}

	if attempted > 0 && updated == 0 && lastErr != nil {
		return 0, finish(t, autoCommit, lastErr)
	}
	return updated, finish(t, autoCommit, nil)
}

// Delete runs the DELETE atomicity shell of spec.md §4.7 for every row
// matching pred: log the pre-image, CAS xmax, then drop the row's
// B-tree entries and HNSW node. Removing the HNSW node on DELETE is
// the supplemented-feature fix for spec.md §9's documented gap ("HNSW
// is not modified by DELETE in the source"); the preferred branch
// spec.md §4.7 offers.
func (e *Engine) Delete(tx *Tx, tableName string, pred Predicate) (int, error) {
	t, autoCommit, err := e.resolveTx(tx)
	if err != nil {
		return 0, err
	}

	table, err := e.db.Table(tableName)
	if err != nil {
		return 0, finish(t, autoCommit, err)
	}

	candidates, err := e.candidateRowIDs(table, t.snap, pred)
	if err != nil {
		return 0, finish(t, autoCommit, err)
	}

	wal := e.db.WAL()
	indexes := e.db.IndexesOnTable(tableName)
	embCol, hasEmb := embeddingColumn(table)

	deleted := 0
	var lastErr error
	attempted := 0

	for _, rowID := range candidates {
		row, ok := table.Get(rowID, t.snap, e.db.CLog())
		if !ok {
			continue
		}
		attempted++

		if wal != nil {
			if _, err := wal.Append(storage.Record{
				Type:      storage.RecDeleteRow,
				TxID:      t.id,
				RowID:     rowID,
				TableName: tableName,
				Data:      storage.EncodeRow(row),
			}); err != nil {
				lastErr = err
				continue
			}
			if err := wal.Flush(); err != nil {
				lastErr = err
				continue
			}
		}

		if err := table.Delete(rowID, t.id, t.snap, e.db.CLog()); err != nil {
			lastErr = err
			continue
		}

		for _, idx := range indexes {
			idx.Delete(row.Get(idx.Column), rowID)
		}
		if hasEmb {
			_ = e.db.HNSWForDim(embCol.Dim).RemoveNode(rowID)
		}
		deleted++
	}

	if attempted > 0 && deleted == 0 && lastErr != nil {
		return 0, finish(t, autoCommit, lastErr)
	}
	return deleted, finish(t, autoCommit, nil)
}
