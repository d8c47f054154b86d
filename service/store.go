package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/linhnguyen0702/contractledger/model"
)

// ContractFilter narrows and pages a contract listing. Deleted contracts are
// excluded unless Status asks for them explicitly.
type ContractFilter struct {
	Page         int
	Limit        int
	Status       model.Status
	ContractType string
	Department   string
	Search       string // matches number, name or contractor
	SortBy       string // created_at, contract_value, start_date, end_date
	SortOrder    string // asc, desc
}

// ContractStats is the aggregate overview of non-deleted contracts.
type ContractStats struct {
	TotalContracts int64                  `json:"total_contracts"`
	TotalValue     float64                `json:"total_value"`
	ByStatus       map[model.Status]int64 `json:"by_status"`
	ExpiringSoon   int64                  `json:"expiring_soon"`
}

// ContractStore persists the authoritative off-chain records. Updates are
// optimistic: the caller passes the version it read and a stale write fails
// with ConflictError.
type ContractStore interface {
	Create(ctx context.Context, c *model.Contract) error
	Get(ctx context.Context, id string) (*model.Contract, error)
	GetByNumber(ctx context.Context, number string) (*model.Contract, error)
	// Update persists c if the stored version still equals expectedVersion,
	// then bumps the version counter.
	Update(ctx context.Context, c *model.Contract, expectedVersion int64) error
	List(ctx context.Context, f ContractFilter) ([]model.Contract, int64, error)
	Stats(ctx context.Context, expiringWithin time.Duration) (*ContractStats, error)
}

// MemoryStore is an in-memory ContractStore used for tests and for running
// without a database.
type MemoryStore struct {
	mu        sync.RWMutex
	contracts map[string]*model.Contract
	byNumber  map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contracts: make(map[string]*model.Contract),
		byNumber:  make(map[string]string),
	}
}

func (s *MemoryStore) Create(_ context.Context, c *model.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byNumber[c.ContractNumber]; ok {
		return &model.ValidationError{Field: "contract_number", Message: "contract number already exists"}
	}
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.Version == 0 {
		c.Version = 1
	}
	clone := cloneContract(c)
	s.contracts[c.ID] = clone
	s.byNumber[c.ContractNumber] = c.ID
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*model.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contracts[id]
	if !ok {
		return nil, &model.NotFoundError{Resource: "contract", ID: id}
	}
	return cloneContract(c), nil
}

func (s *MemoryStore) GetByNumber(_ context.Context, number string) (*model.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byNumber[model.NormalizeContractNumber(number)]
	if !ok {
		return nil, &model.NotFoundError{Resource: "contract", ID: number}
	}
	return cloneContract(s.contracts[id]), nil
}

func (s *MemoryStore) Update(_ context.Context, c *model.Contract, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.contracts[c.ID]
	if !ok {
		return &model.NotFoundError{Resource: "contract", ID: c.ID}
	}
	if stored.Version != expectedVersion {
		return &model.ConflictError{ID: c.ID, ExpectedVersion: expectedVersion, ActualVersion: stored.Version}
	}
	c.Version = expectedVersion + 1
	c.UpdatedAt = time.Now()
	s.contracts[c.ID] = cloneContract(c)
	return nil
}

func (s *MemoryStore) List(_ context.Context, f ContractFilter) ([]model.Contract, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*model.Contract
	for _, c := range s.contracts {
		if !matchesFilter(c, f) {
			continue
		}
		matched = append(matched, c)
	}

	sortContracts(matched, f.SortBy, f.SortOrder)

	total := int64(len(matched))
	page, limit := normalizePage(f.Page, f.Limit)
	start := (page - 1) * limit
	if start >= len(matched) {
		return []model.Contract{}, total, nil
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}

	out := make([]model.Contract, 0, end-start)
	for _, c := range matched[start:end] {
		out = append(out, *cloneContract(c))
	}
	return out, total, nil
}

func (s *MemoryStore) Stats(_ context.Context, expiringWithin time.Duration) (*ContractStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &ContractStats{ByStatus: make(map[model.Status]int64)}
	now := time.Now()
	horizon := now.Add(expiringWithin)
	for _, c := range s.contracts {
		if c.Status == model.StatusDeleted {
			continue
		}
		stats.TotalContracts++
		stats.TotalValue += c.ContractValue
		stats.ByStatus[c.Status]++
		if (c.Status == model.StatusApproved || c.Status == model.StatusActive) &&
			c.EndDate.After(now) && !c.EndDate.After(horizon) {
			stats.ExpiringSoon++
		}
	}
	return stats, nil
}

func matchesFilter(c *model.Contract, f ContractFilter) bool {
	if f.Status != "" {
		if c.Status != f.Status {
			return false
		}
	} else if c.Status == model.StatusDeleted {
		return false
	}
	if f.ContractType != "" && c.ContractType != f.ContractType {
		return false
	}
	if f.Department != "" && c.Department != f.Department {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(c.ContractNumber), q) &&
			!strings.Contains(strings.ToLower(c.ContractName), q) &&
			!strings.Contains(strings.ToLower(c.Contractor), q) {
			return false
		}
	}
	return true
}

func sortContracts(contracts []*model.Contract, sortBy, sortOrder string) {
	asc := sortOrder == "asc"
	sort.SliceStable(contracts, func(i, j int) bool {
		var less bool
		switch sortBy {
		case "contract_value":
			less = contracts[i].ContractValue < contracts[j].ContractValue
		case "start_date":
			less = contracts[i].StartDate.Before(contracts[j].StartDate)
		case "end_date":
			less = contracts[i].EndDate.Before(contracts[j].EndDate)
		default:
			less = contracts[i].CreatedAt.Before(contracts[j].CreatedAt)
		}
		if asc {
			return less
		}
		return !less
	})
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}

func cloneContract(c *model.Contract) *model.Contract {
	clone := *c
	clone.Approvals = append([]model.Approval(nil), c.Approvals...)
	clone.Attachments = append([]model.Attachment(nil), c.Attachments...)
	clone.History = append([]model.HistoryEntry(nil), c.History...)
	if c.Ledger != nil {
		mirror := *c.Ledger
		clone.Ledger = &mirror
	}
	return &clone
}
