package retrieval

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// ErrPartialDelete is returned when DeleteBook could not remove exactly the
// records it counted. Nothing is deleted in that case.
var ErrPartialDelete = errors.New("partial delete")

// Compile-time check that SQLiteStore implements VectorStore.
var _ VectorStore = (*SQLiteStore)(nil)

// SQLiteStore provides vector storage and brute-force cosine search backed by
// the paragraph_vectors table. Collections are a column, not separate tables.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an existing *sql.DB for vector operations.
// The paragraph_vectors table must already exist (created via migrations).
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const recordColumns = `collection, id, book_id, book_name, document, embedding, division, confidence, source_page, page_estimated, para_index, created_at`

// Insert adds records in one transaction. Any failure rolls back the batch.
func (s *SQLiteStore) Insert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO paragraph_vectors (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		collection := r.Collection
		if collection == "" {
			collection = MainCollection
		}
		if _, err := stmt.ExecContext(ctx,
			collection, r.ID, r.BookID, r.BookName, r.Document, encodeFloat32s(r.Embedding),
			r.Divisions.Encode(), r.Confidence, r.SourcePage, r.PageEstimated, r.ParagraphIndex,
			createdAt.Format(time.RFC3339),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting record %s into %s: %w", r.ID, collection, err)
		}
	}

	return tx.Commit()
}

// where builds the collection + book filter clause and its arguments.
func where(collection string, f Filter) (string, []any) {
	clause := `collection = ?`
	args := []any{collection}
	if len(f.BookIDs) > 0 {
		clause += ` AND book_id IN (?` + strings.Repeat(",?", len(f.BookIDs)-1) + `)`
		for _, id := range f.BookIDs {
			args = append(args, id)
		}
	}
	return clause, args
}

// idScore holds only the ID and similarity during the scan phase of Search.
// Full record details are fetched only for top-K winners.
type idScore struct {
	ID    string
	Score float32
}

// Search performs brute-force cosine similarity over the collection and
// returns the top-K records, closest first. Ties are broken by id.
func (s *SQLiteStore) Search(ctx context.Context, collection string, vector []float32, topK int, filter Filter) ([]ScoredRecord, error) {
	if topK <= 0 {
		return nil, nil
	}
	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	clause, args := where(collection, filter)

	// Phase 1: scan only id + embedding to find top-K candidates.
	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM paragraph_vectors WHERE `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		item := idScore{ID: id, Score: cosine(vector, buf, queryNorm)}
		if h.Len() < topK {
			heap.Push(h, item)
		} else if better(item, (*h)[0]) {
			(*h)[0] = item
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	if h.Len() == 0 {
		return nil, nil
	}

	// Phase 2: fetch full records only for the top-K IDs.
	ids := make([]string, 0, h.Len())
	scores := make(map[string]float32, h.Len())
	for _, item := range *h {
		ids = append(ids, item.ID)
		scores[item.ID] = item.Score
	}

	records, err := s.GetByIDs(ctx, collection, ids)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K records: %w", err)
	}

	results := make([]ScoredRecord, len(records))
	for i, r := range records {
		results[i] = ScoredRecord{Record: r, Distance: 1 - scores[r.ID]}
	}
	sortByDistance(results)
	return results, nil
}

// better reports whether a ranks above b: higher similarity, then lower id.
func better(a, b idScore) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.ID < b.ID
}

func sortByDistance(results []ScoredRecord) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ID < results[j].ID
	})
}

// GetByIDs returns records of a collection matching the given ids.
func (s *SQLiteStore) GetByIDs(ctx context.Context, collection string, ids []string) ([]Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(ids)+1)
	args = append(args, collection)
	for _, id := range ids {
		args = append(args, id)
	}

	query := `SELECT ` + recordColumns + ` FROM paragraph_vectors
		WHERE collection = ? AND id IN (?` + strings.Repeat(",?", len(ids)-1) + `)`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying by IDs: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// List returns every record of a collection matching filter.
func (s *SQLiteStore) List(ctx context.Context, collection string, filter Filter) ([]Record, error) {
	clause, args := where(collection, filter)
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM paragraph_vectors
		WHERE `+clause+` ORDER BY book_id ASC, para_index ASC, id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", collection, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var r Record
		var blob []byte
		var division, createdAt string
		if err := rows.Scan(&r.Collection, &r.ID, &r.BookID, &r.BookName, &r.Document, &blob,
			&division, &r.Confidence, &r.SourcePage, &r.PageEstimated, &r.ParagraphIndex, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		embedding, err := decodeFloat32s(blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", r.ID, err)
		}
		r.Embedding = embedding
		r.Divisions = DecodeDivisions(division)
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at for id %s: %w", r.ID, err)
		}
		r.CreatedAt = t
		records = append(records, r)
	}
	return records, rows.Err()
}

// DeleteBook removes every record of bookID from all collections inside one
// transaction. The rows are counted first; if the delete affects a different
// number of rows the transaction is rolled back and ErrPartialDelete returned.
func (s *SQLiteStore) DeleteBook(ctx context.Context, bookID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	var want int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM paragraph_vectors WHERE book_id = ?`, bookID).Scan(&want); err != nil {
		return 0, fmt.Errorf("counting records of book %s: %w", bookID, err)
	}
	if want == 0 {
		return 0, nil
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM paragraph_vectors WHERE book_id = ?`, bookID)
	if err != nil {
		return 0, fmt.Errorf("deleting records of book %s: %w", bookID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking deleted rows: %w", err)
	}
	if int(n) != want {
		return 0, fmt.Errorf("%w: book %s had %d records, deleted %d", ErrPartialDelete, bookID, want, n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing delete of book %s: %w", bookID, err)
	}
	return want, nil
}

// Count returns the number of records in a collection matching filter.
func (s *SQLiteStore) Count(ctx context.Context, collection string, filter Filter) (int, error) {
	clause, args := where(collection, filter)
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM paragraph_vectors WHERE `+clause, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", collection, err)
	}
	return count, nil
}

// Collections returns every collection with its record count.
func (s *SQLiteStore) Collections(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT collection, COUNT(*) FROM paragraph_vectors GROUP BY collection`)
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("scanning collection row: %w", err)
		}
		out[name] = n
	}
	return out, rows.Err()
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
// Returns an error if the byte slice length is not a multiple of 4 (indicates data corruption).
func decodeFloat32s(b []byte) ([]float32, error) {
	return decodeFloat32sInto(nil, b)
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes dot(a,b) / (aNorm * |b|). aNorm is the precomputed L2 norm
// of a. Mismatched dimensions or a zero vector score 0.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// idScoreHeap is a min-heap of idScore; the root is the weakest candidate.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int           { return len(h) }
func (h idScoreHeap) Less(i, j int) bool { return better(h[j], h[i]) }
func (h idScoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x any)        { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
