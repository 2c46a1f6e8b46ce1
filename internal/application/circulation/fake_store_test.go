package circulation

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/xiebiao/circulation/internal/domain/catalog"
	"github.com/xiebiao/circulation/internal/domain/inventory"
	"github.com/xiebiao/circulation/internal/domain/loan"
	"github.com/xiebiao/circulation/internal/domain/user"
)

// fakeStore 内存版存储
//
//   - txMu 串行化事务,相当于把所有行锁合并成一把锁
//   - dataMu 保护数据本身,事务外的预检查读取只拿dataMu
//   - 事务开始时做快照,fn返回错误时恢复,模拟ROLLBACK
type fakeStore struct {
	txMu   sync.Mutex
	dataMu sync.Mutex

	users      map[uint]*user.User
	categories map[uint]*catalog.Category
	books      map[uint]*fakeBook
	copies     map[uint]*inventory.Copy
	loans      map[uint]*loan.Loan
	nextLoanID uint

	// lockLog 记录每次加锁读取的ID顺序
	lockLog [][]uint
	// txCalls 事务调用次数
	txCalls int

	// 以下为测试钩子
	txBarrier   *sync.WaitGroup  // 所有参与者到齐后才进入事务
	beforeTx    func()           // 进入事务前执行(不持有任何锁)
	txErr       error            // 非nil时Transaction直接返回该错误
	countErr    error            // 非nil时CountByIDs返回该错误
	barcodeHits map[string]int   // 条码查询次数
}

type fakeBook struct {
	Title      string
	CategoryID uint
}

type fakeTxKey struct{}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       map[uint]*user.User{},
		categories:  map[uint]*catalog.Category{},
		books:       map[uint]*fakeBook{},
		copies:      map[uint]*inventory.Copy{},
		loans:       map[uint]*loan.Loan{},
		barcodeHits: map[string]int{},
	}
}

// =========================================
// 数据准备
// =========================================

func (s *fakeStore) addUser(id uint, username string) {
	s.users[id] = &user.User{ID: id, Username: username, Role: "reader"}
}

func (s *fakeStore) addCategory(c *catalog.Category) {
	s.categories[c.ID] = c
}

func (s *fakeStore) addBook(id uint, title string, categoryID uint) {
	s.books[id] = &fakeBook{Title: title, CategoryID: categoryID}
}

func (s *fakeStore) addCopy(id, bookID uint, barcode string, status inventory.CopyStatus) {
	s.copies[id] = &inventory.Copy{ID: id, BookID: bookID, BranchID: 1, Barcode: barcode, Status: status}
}

// addLoan 直接写入一条借阅记录(同时把副本置为BORROWED)
func (s *fakeStore) addLoan(userID, copyID uint, borrowedAt, dueAt time.Time) uint {
	s.nextLoanID++
	s.loans[s.nextLoanID] = &loan.Loan{
		ID: s.nextLoanID, UserID: userID, CopyID: copyID, BorrowedAt: borrowedAt, DueAt: dueAt,
	}
	if c, ok := s.copies[copyID]; ok {
		c.Status = inventory.StatusBorrowed
	}
	return s.nextLoanID
}

// =========================================
// 断言辅助
// =========================================

func (s *fakeStore) status(copyID uint) inventory.CopyStatus {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	return s.copies[copyID].Status
}

func (s *fakeStore) activeLoansFor(copyID uint) []*loan.Loan {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	var result []*loan.Loan
	for _, l := range s.loans {
		if l.CopyID == copyID && l.IsActive() {
			result = append(result, cloneLoan(l))
		}
	}
	return result
}

func (s *fakeStore) loanCount() int {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	return len(s.loans)
}

func (s *fakeStore) loan(id uint) *loan.Loan {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	return cloneLoan(s.loans[id])
}

// =========================================
// Transactor
// =========================================

type fakeTx struct{ *fakeStore }

func (t fakeTx) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if t.beforeTx != nil {
		t.beforeTx()
	}
	if t.txBarrier != nil {
		t.txBarrier.Done()
		t.txBarrier.Wait()
	}

	t.txMu.Lock()
	defer t.txMu.Unlock()

	t.dataMu.Lock()
	t.txCalls++
	if t.txErr != nil {
		t.dataMu.Unlock()
		return t.txErr
	}
	copiesSnapshot := make(map[uint]inventory.Copy, len(t.copies))
	for id, c := range t.copies {
		copiesSnapshot[id] = *c
	}
	loansSnapshot := make(map[uint]*loan.Loan, len(t.loans))
	for id, l := range t.loans {
		loansSnapshot[id] = cloneLoan(l)
	}
	nextLoanID := t.nextLoanID
	t.dataMu.Unlock()

	err := fn(context.WithValue(ctx, fakeTxKey{}, true))
	if err != nil {
		t.dataMu.Lock()
		t.copies = make(map[uint]*inventory.Copy, len(copiesSnapshot))
		for id, c := range copiesSnapshot {
			c := c
			t.copies[id] = &c
		}
		t.loans = loansSnapshot
		t.nextLoanID = nextLoanID
		t.dataMu.Unlock()
	}
	return err
}

var errLockOutsideTx = errors.New("locking read outside transaction")

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(fakeTxKey{}).(bool)
	return v
}

// =========================================
// user.Repository
// =========================================

type fakeUsers struct{ *fakeStore }

func (r fakeUsers) FindByID(_ context.Context, id uint) (*user.User, error) {
	r.dataMu.Lock()
	defer r.dataMu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, user.ErrUserNotFound
	}
	clone := *u
	return &clone, nil
}

func (r fakeUsers) LockByID(ctx context.Context, id uint) (*user.User, error) {
	if !inTx(ctx) {
		return nil, errLockOutsideTx
	}
	return r.FindByID(ctx, id)
}

// =========================================
// inventory.Repository
// =========================================

type fakeCopies struct{ *fakeStore }

func (r fakeCopies) FindByID(_ context.Context, id uint) (*inventory.Copy, error) {
	r.dataMu.Lock()
	defer r.dataMu.Unlock()
	c, ok := r.copies[id]
	if !ok {
		return nil, inventory.ErrCopyNotFound
	}
	clone := *c
	return &clone, nil
}

func (r fakeCopies) FindByBarcode(_ context.Context, barcode string) (*inventory.Copy, error) {
	r.dataMu.Lock()
	defer r.dataMu.Unlock()
	r.barcodeHits[barcode]++
	for _, c := range r.copies {
		if c.Barcode == barcode {
			clone := *c
			return &clone, nil
		}
	}
	return nil, inventory.ErrBarcodeNotFound
}

func (r fakeCopies) CountByIDs(_ context.Context, set inventory.LockSet) (int64, error) {
	r.dataMu.Lock()
	defer r.dataMu.Unlock()
	if r.countErr != nil {
		return 0, r.countErr
	}
	var n int64
	for _, id := range set.IDs() {
		if _, ok := r.copies[id]; ok {
			n++
		}
	}
	return n, nil
}

func (r fakeCopies) LockByIDs(ctx context.Context, set inventory.LockSet) ([]*inventory.Copy, error) {
	if !inTx(ctx) {
		return nil, errLockOutsideTx
	}
	r.dataMu.Lock()
	defer r.dataMu.Unlock()
	r.lockLog = append(r.lockLog, set.IDs())
	var result []*inventory.Copy
	for _, id := range set.IDs() {
		if c, ok := r.copies[id]; ok {
			clone := *c
			result = append(result, &clone)
		}
	}
	return result, nil
}

func (r fakeCopies) UpdateStatus(_ context.Context, set inventory.LockSet, from, to inventory.CopyStatus) (int64, error) {
	r.dataMu.Lock()
	defer r.dataMu.Unlock()
	var n int64
	for _, id := range set.IDs() {
		if c, ok := r.copies[id]; ok && c.Status == from {
			c.Status = to
			n++
		}
	}
	return n, nil
}

func (r fakeCopies) CategoryIDs(_ context.Context, set inventory.LockSet) (map[uint]uint, error) {
	r.dataMu.Lock()
	defer r.dataMu.Unlock()
	result := map[uint]uint{}
	for _, id := range set.IDs() {
		if c, ok := r.copies[id]; ok {
			if b, ok := r.books[c.BookID]; ok {
				result[id] = b.CategoryID
			}
		}
	}
	return result, nil
}

// =========================================
// catalog.Repository
// =========================================

type fakeCatalog struct{ *fakeStore }

func (r fakeCatalog) FindCategories(_ context.Context, ids []uint) (map[uint]*catalog.Category, error) {
	r.dataMu.Lock()
	defer r.dataMu.Unlock()
	result := map[uint]*catalog.Category{}
	for _, id := range ids {
		if c, ok := r.categories[id]; ok {
			result[id] = c
		}
	}
	return result, nil
}

// =========================================
// loan.Repository
// =========================================

type fakeLoans struct{ *fakeStore }

func (r fakeLoans) CreateBatch(_ context.Context, loans []*loan.Loan) error {
	r.dataMu.Lock()
	defer r.dataMu.Unlock()
	for _, l := range loans {
		r.nextLoanID++
		l.ID = r.nextLoanID
		r.loans[l.ID] = cloneLoan(l)
	}
	return nil
}

func (r fakeLoans) FindByID(_ context.Context, id uint) (*loan.Loan, error) {
	r.dataMu.Lock()
	defer r.dataMu.Unlock()
	l, ok := r.loans[id]
	if !ok {
		return nil, loan.ErrLoanNotFound
	}
	return cloneLoan(l), nil
}

func (r fakeLoans) LockByID(ctx context.Context, id uint) (*loan.Loan, error) {
	if !inTx(ctx) {
		return nil, errLockOutsideTx
	}
	return r.FindByID(ctx, id)
}

func (r fakeLoans) ActiveByUser(_ context.Context, userID uint) ([]*loan.Loan, error) {
	r.dataMu.Lock()
	defer r.dataMu.Unlock()
	var result []*loan.Loan
	for _, l := range r.loans {
		if l.UserID == userID && l.IsActive() {
			result = append(result, cloneLoan(l))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CopyID < result[j].CopyID })
	return result, nil
}

func (r fakeLoans) ActiveCategoryCounts(_ context.Context, userID uint) (map[uint]int, error) {
	r.dataMu.Lock()
	defer r.dataMu.Unlock()
	counts := map[uint]int{}
	for _, l := range r.loans {
		if l.UserID != userID || !l.IsActive() {
			continue
		}
		if c, ok := r.copies[l.CopyID]; ok {
			if b, ok := r.books[c.BookID]; ok {
				counts[b.CategoryID]++
			}
		}
	}
	return counts, nil
}

func (r fakeLoans) LockActive(ctx context.Context, userID uint, set inventory.LockSet) ([]*loan.Loan, error) {
	if !inTx(ctx) {
		return nil, errLockOutsideTx
	}
	r.dataMu.Lock()
	defer r.dataMu.Unlock()
	r.lockLog = append(r.lockLog, set.IDs())
	var result []*loan.Loan
	for _, l := range r.loans {
		if l.UserID == userID && l.IsActive() && set.Contains(l.CopyID) {
			result = append(result, cloneLoan(l))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CopyID < result[j].CopyID })
	return result, nil
}

func (r fakeLoans) MarkReturned(_ context.Context, loanIDs []uint, at time.Time) (int64, error) {
	r.dataMu.Lock()
	defer r.dataMu.Unlock()
	var n int64
	for _, id := range loanIDs {
		if l, ok := r.loans[id]; ok && l.MarkReturned(at) {
			n++
		}
	}
	return n, nil
}

func (r fakeLoans) ListDue(_ context.Context, q loan.DueQuery) ([]*loan.DueLoan, error) {
	r.dataMu.Lock()
	defer r.dataMu.Unlock()
	var ids []uint
	for id, l := range r.loans {
		if l.IsActive() && !l.DueAt.After(q.Until) && id > q.AfterID {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	if q.Limit > 0 && len(ids) > q.Limit {
		ids = ids[:q.Limit]
	}

	result := make([]*loan.DueLoan, 0, len(ids))
	for _, id := range ids {
		l := r.loans[id]
		c := r.copies[l.CopyID]
		result = append(result, &loan.DueLoan{
			LoanID:    l.ID,
			UserID:    l.UserID,
			Username:  r.users[l.UserID].Username,
			CopyID:    l.CopyID,
			Barcode:   c.Barcode,
			BookTitle: r.books[c.BookID].Title,
			DueAt:     l.DueAt,
		})
	}
	return result, nil
}

func cloneLoan(l *loan.Loan) *loan.Loan {
	if l == nil {
		return nil
	}
	clone := *l
	if l.ReturnedAt != nil {
		at := *l.ReturnedAt
		clone.ReturnedAt = &at
	}
	return &clone
}
