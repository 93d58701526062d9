package visum

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Bulk mutation actions. Every mutation shares the same request shape, so
// supporting a new server-side action only takes a new constant here.
const (
	actionMergeConcepts     = "merge_concepts"
	actionDeleteConcepts    = "delete_concepts"
	actionOverwriteConcepts = "overwrite_concepts"
	actionDeleteRecords     = "delete_records"
)

// mutationEnvelope is the request wrapper shared by all bulk mutations.
type mutationEnvelope struct {
	Action  string    `json:"action"`
	Records []*Record `json:"records"`
}

// RecordsService operates on the records collection. Access it through
// Client.Records.
type RecordsService struct {
	client *Client
}

// ListOptions paginates List. Zero values are omitted from the request and
// the service applies its defaults.
type ListOptions struct {
	Page    int
	PerPage int
}

// List retrieves one page of records.
func (s *RecordsService) List(ctx context.Context, opts *ListOptions) ([]*Record, error) {
	params := url.Values{}
	if opts != nil {
		if opts.Page > 0 {
			params.Set("page", strconv.Itoa(opts.Page))
		}
		if opts.PerPage > 0 {
			params.Set("per_page", strconv.Itoa(opts.PerPage))
		}
	}

	var out recordsEnvelope
	if err := s.client.do(ctx, http.MethodGet, recordsPath, params, nil, &out); err != nil {
		return nil, err
	}

	return out.Records, nil
}

// Create adds records to the collection. Inputs beyond the configured batch
// size are split into contiguous batches and created concurrently; the
// returned records are always in input order. An empty input performs no
// requests and returns an empty slice.
//
// On failure the first error is returned as a *BatchError. Batches already
// in flight when another batch fails may still be applied; the service does
// not roll them back.
func (s *RecordsService) Create(ctx context.Context, records ...*Record) ([]*Record, error) {
	if len(records) == 0 {
		return []*Record{}, nil
	}

	for i, r := range records {
		if r == nil {
			return nil, NewValidationError(fmt.Sprintf("records[%d]", i), "record must not be nil")
		}
		if err := r.validateForCreate(); err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				return nil, NewValidationError(fmt.Sprintf("records[%d].%s", i, ve.Field), ve.Message)
			}
			return nil, err
		}
	}

	return s.client.createInBatches(ctx, records)
}

// Get retrieves a single record by id.
func (s *RecordsService) Get(ctx context.Context, id string) (*Record, error) {
	if id == "" {
		return nil, NewValidationError("id", "record id is required")
	}

	var out recordEnvelope
	if err := s.client.do(ctx, http.MethodGet, recordPath(id), nil, nil, &out); err != nil {
		return nil, err
	}

	return out.Record, nil
}

// Delete removes the single record with the given id. An empty id is a
// validation error; wiping the collection takes an explicit DeleteAll call.
func (s *RecordsService) Delete(ctx context.Context, id string) error {
	if id == "" {
		return NewValidationError("id", "record id is required; use DeleteAll to clear the collection")
	}

	return s.client.do(ctx, http.MethodDelete, recordPath(id), nil, nil, nil)
}

// DeleteBatch removes the records with the given ids in one bulk mutation.
// An empty list performs no request.
func (s *RecordsService) DeleteBatch(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	records := make([]*Record, len(ids))
	for i, id := range ids {
		if id == "" {
			return NewValidationError(fmt.Sprintf("ids[%d]", i), "record id is required")
		}
		records[i] = &Record{ID: id}
	}

	payload := mutationEnvelope{
		Action:  actionDeleteRecords,
		Records: formatRecords(records, wireDelete),
	}

	return s.client.do(ctx, http.MethodPatch, recordsPath, nil, payload, nil)
}

// DeleteAll removes every record in the collection.
func (s *RecordsService) DeleteAll(ctx context.Context) error {
	return s.client.do(ctx, http.MethodDelete, recordsPath, nil, nil, nil)
}

// AddConcepts merges concept annotations into the identified records. Only
// each record's id and concepts are sent; other fields are ignored.
func (s *RecordsService) AddConcepts(ctx context.Context, records []*Record) ([]*Record, error) {
	return s.patchConcepts(ctx, actionMergeConcepts, records)
}

// DeleteConcepts removes the given concept annotations from the identified
// records.
func (s *RecordsService) DeleteConcepts(ctx context.Context, records []*Record) ([]*Record, error) {
	return s.patchConcepts(ctx, actionDeleteConcepts, records)
}

// OverwriteConcepts replaces each identified record's concepts with exactly
// the ones given.
func (s *RecordsService) OverwriteConcepts(ctx context.Context, records []*Record) ([]*Record, error) {
	return s.patchConcepts(ctx, actionOverwriteConcepts, records)
}

// patchConcepts sends one bulk concept mutation. An empty input performs no
// request.
func (s *RecordsService) patchConcepts(ctx context.Context, action string, records []*Record) ([]*Record, error) {
	if len(records) == 0 {
		return []*Record{}, nil
	}

	for i, r := range records {
		if r == nil || r.ID == "" {
			return nil, NewValidationError(fmt.Sprintf("records[%d].id", i), "record id is required")
		}
	}

	payload := mutationEnvelope{
		Action:  action,
		Records: formatRecords(records, wireConcepts),
	}

	var out recordsEnvelope
	if err := s.client.do(ctx, http.MethodPatch, recordsPath, nil, payload, &out); err != nil {
		return nil, err
	}

	return out.Records, nil
}

// Search runs a compiled query and returns the matching records with their
// relevance scores set.
func (s *RecordsService) Search(ctx context.Context, req *SearchRequest) ([]*Record, error) {
	var out searchEnvelope
	if err := s.client.do(ctx, http.MethodPost, searchesPath, nil, compileSearch(req), &out); err != nil {
		return nil, err
	}

	return flattenHits(out.Hits), nil
}

// GetStatus reports how many records in the collection are processed, still
// pending, or failed processing.
func (s *RecordsService) GetStatus(ctx context.Context) (*CollectionStatus, error) {
	var out statusEnvelope
	if err := s.client.do(ctx, http.MethodGet, recordsStatusPath, nil, nil, &out); err != nil {
		return nil, err
	}

	return &out.Counts, nil
}
