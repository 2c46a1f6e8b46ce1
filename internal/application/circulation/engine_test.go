package circulation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/xiebiao/circulation/internal/domain/catalog"
	"github.com/xiebiao/circulation/internal/domain/inventory"
	"github.com/xiebiao/circulation/internal/domain/loan"
	"github.com/xiebiao/circulation/internal/domain/user"
	apperrors "github.com/xiebiao/circulation/pkg/errors"
)

var testNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

const (
	alice uint = 1
	bob   uint = 2

	categoryBook      uint = 1
	categoryJournal   uint = 2
	categoryReference uint = 3
)

type fixture struct {
	store  *fakeStore
	engine *Engine
	now    time.Time
}

// newFixture 准备测试数据
//
//	副本 1-20:  图书(BOOK,默认借期)
//	副本 21-30: 期刊(JOURNAL,借期14天)
//	副本 31-35: 工具书(REFERENCE,不限额)
//	副本 40:    已下架
func newFixture(t *testing.T, strict bool) *fixture {
	t.Helper()

	s := newFakeStore()
	s.addUser(alice, "alice")
	s.addUser(bob, "bob")

	s.addCategory(&catalog.Category{ID: categoryBook, Label: "book", RuleMaxConcurrent: 10})
	s.addCategory(&catalog.Category{ID: categoryJournal, Label: "JOURNAL", RuleMaxConcurrent: 5, RuleLoanPeriodDays: 14})
	s.addCategory(&catalog.Category{ID: categoryReference, Label: "REFERENCE"})

	s.addBook(1, "Go程序设计语言", categoryBook)
	s.addBook(2, "程序员", categoryJournal)
	s.addBook(3, "辞海", categoryReference)

	for id := uint(1); id <= 20; id++ {
		s.addCopy(id, 1, barcodeOf(id), inventory.StatusAvailable)
	}
	for id := uint(21); id <= 30; id++ {
		s.addCopy(id, 2, barcodeOf(id), inventory.StatusAvailable)
	}
	for id := uint(31); id <= 35; id++ {
		s.addCopy(id, 3, barcodeOf(id), inventory.StatusAvailable)
	}
	s.addCopy(40, 1, barcodeOf(40), inventory.StatusDeleted)

	f := &fixture{store: s, now: testNow}
	f.engine = NewEngine(
		fakeUsers{s}, fakeCopies{s}, fakeLoans{s}, fakeCatalog{s}, fakeTx{s},
		Options{
			Policy:            loan.DefaultQuotaPolicy(),
			DefaultPeriodDays: 30,
			StrictQuota:       strict,
			Now:               func() time.Time { return f.now },
		},
	)
	return f
}

func barcodeOf(id uint) string {
	return fmt.Sprintf("BC-%04d", id)
}

func byIDs(ids ...uint) []inventory.CopyRef {
	refs := make([]inventory.CopyRef, len(ids))
	for i, id := range ids {
		refs[i] = inventory.ByID(id)
	}
	return refs
}

func copyIDsOf(loans []BorrowedLoan) []uint {
	ids := make([]uint, len(loans))
	for i, l := range loans {
		ids[i] = l.CopyID
	}
	return ids
}

// =========================================
// 借阅
// =========================================

func TestBorrowAndReturn_SingleCopy(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	resp, err := f.engine.Borrow(ctx, BorrowRequest{UserID: alice, Items: byIDs(7)})
	require.NoError(t, err)
	require.Len(t, resp.Loans, 1)

	borrowed := resp.Loans[0]
	assert.Equal(t, uint(7), borrowed.CopyID)
	assert.Equal(t, testNow.AddDate(0, 0, 30), borrowed.DueAt)
	assert.Equal(t, inventory.StatusBorrowed, f.store.status(7))

	f.now = testNow.Add(72 * time.Hour)
	returned, err := f.engine.Return(ctx, ReturnRequest{
		UserID: alice,
		Items:  []inventory.CopyRef{inventory.ByBarcode(" BC-0007 ")},
	})
	require.NoError(t, err)
	require.Len(t, returned.Loans, 1)
	assert.Equal(t, ReturnedLoan{LoanID: borrowed.LoanID, CopyID: 7, ReturnedAt: f.now}, returned.Loans[0])
	assert.Equal(t, inventory.StatusAvailable, f.store.status(7))
	assert.Empty(t, f.store.activeLoansFor(7))
}

func TestBorrow_Batch(t *testing.T) {
	f := newFixture(t, true)

	resp, err := f.engine.Borrow(context.Background(), BorrowRequest{UserID: alice, Items: byIDs(3, 1, 2)})
	require.NoError(t, err)

	assert.Equal(t, []uint{1, 2, 3}, copyIDsOf(resp.Loans))
	for _, id := range []uint{1, 2, 3} {
		assert.Equal(t, inventory.StatusBorrowed, f.store.status(id))
		active := f.store.activeLoansFor(id)
		require.Len(t, active, 1)
		assert.Equal(t, alice, active[0].UserID)
		assert.Equal(t, testNow, active[0].BorrowedAt)
	}
}

func TestBorrow_LockOrder(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.engine.Borrow(ctx, BorrowRequest{UserID: alice, Items: byIDs(5, 1, 3, 5)})
	require.NoError(t, err)
	require.NotEmpty(t, f.store.lockLog)
	assert.Equal(t, []uint{1, 3, 5}, f.store.lockLog[len(f.store.lockLog)-1])

	_, err = f.engine.Return(ctx, ReturnRequest{UserID: alice, Items: byIDs(5, 3, 1)})
	require.NoError(t, err)
	assert.Equal(t, []uint{1, 3, 5}, f.store.lockLog[len(f.store.lockLog)-1])
}

func TestBorrow_Dedup(t *testing.T) {
	f := newFixture(t, true)

	resp, err := f.engine.Borrow(context.Background(), BorrowRequest{
		UserID: alice,
		Items: []inventory.CopyRef{
			inventory.ByBarcode("BC-0001"),
			inventory.ByBarcode(" BC-0001 "),
			inventory.ByID(1),
			// ID与条码同时给出时ID优先
			{CopyID: 1, Barcode: "BC-0002"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []uint{1}, copyIDsOf(resp.Loans))
	assert.Equal(t, 1, f.store.loanCount())
	assert.Equal(t, 1, f.store.barcodeHits["BC-0001"])
	assert.Zero(t, f.store.barcodeHits["BC-0002"])
	assert.Equal(t, inventory.StatusAvailable, f.store.status(2))
}

func TestBorrow_LoanPeriodByCategory(t *testing.T) {
	f := newFixture(t, true)

	resp, err := f.engine.Borrow(context.Background(), BorrowRequest{UserID: alice, Items: byIDs(1, 21, 31)})
	require.NoError(t, err)
	require.Len(t, resp.Loans, 3)

	assert.Equal(t, testNow.AddDate(0, 0, 30), resp.Loans[0].DueAt)
	assert.Equal(t, testNow.AddDate(0, 0, 14), resp.Loans[1].DueAt)
	assert.Equal(t, testNow.AddDate(0, 0, 30), resp.Loans[2].DueAt)
}

func TestBorrow_Unavailable(t *testing.T) {
	f := newFixture(t, true)
	f.store.addLoan(bob, 1, testNow.AddDate(0, 0, -3), testNow.AddDate(0, 0, 27))

	_, err := f.engine.Borrow(context.Background(), BorrowRequest{UserID: alice, Items: byIDs(2, 40, 1)})
	require.Error(t, err)

	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))
	assert.True(t, errors.Is(err, inventory.ErrCopyUnavailable))
	assert.Equal(t, map[string][]uint{"copy_ids": {1, 40}}, apperrors.GetAppError(err).Details)

	// 整批回滚:可借的副本2没有被借出
	assert.Equal(t, inventory.StatusAvailable, f.store.status(2))
	assert.Equal(t, inventory.StatusDeleted, f.store.status(40))
	assert.Empty(t, f.store.activeLoansFor(2))
	assert.Equal(t, 1, f.store.loanCount())
}

func TestBorrow_Validation(t *testing.T) {
	tests := []struct {
		name     string
		userID   uint
		items    []inventory.CopyRef
		kind     apperrors.Kind
		sentinel error
		contains string
	}{
		{"空批次", alice, nil, apperrors.KindInvalidRequest, inventory.ErrEmptyBatch, ""},
		{"标识为空", alice, []inventory.CopyRef{{}}, apperrors.KindInvalidRequest, inventory.ErrInvalidCopyRef, ""},
		{"条码只有空白", alice, []inventory.CopyRef{inventory.ByBarcode("   ")}, apperrors.KindInvalidRequest, inventory.ErrInvalidCopyRef, ""},
		{"非法标识优先于条码查询", alice, []inventory.CopyRef{inventory.ByBarcode("NOPE"), {}}, apperrors.KindInvalidRequest, inventory.ErrInvalidCopyRef, ""},
		{"条码不存在", alice, []inventory.CopyRef{inventory.ByID(1), inventory.ByBarcode("NOPE")}, apperrors.KindNotFound, inventory.ErrBarcodeNotFound, "NOPE"},
		{"副本不存在", alice, byIDs(1, 999), apperrors.KindNotFound, inventory.ErrCopyNotFound, ""},
		{"用户不存在", 99, byIDs(1), apperrors.KindNotFound, user.ErrUserNotFound, ""},
		{"用户ID为空", 0, byIDs(1), apperrors.KindInvalidRequest, apperrors.ErrInvalidParams, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true)

			_, err := f.engine.Borrow(context.Background(), BorrowRequest{UserID: tt.userID, Items: tt.items})
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperrors.KindOf(err))
			assert.True(t, errors.Is(err, tt.sentinel), "got %v", err)
			if tt.contains != "" {
				assert.Contains(t, err.Error(), tt.contains)
			}

			assert.Zero(t, f.store.loanCount())
			assert.Zero(t, f.store.txCalls, "参数错误不应进入事务")
			if errors.Is(tt.sentinel, inventory.ErrInvalidCopyRef) {
				assert.Empty(t, f.store.barcodeHits, "格式校验先于条码查询")
			}
		})
	}
}

func TestBorrow_CopyVanishedBeforeLock(t *testing.T) {
	f := newFixture(t, true)
	f.store.beforeTx = func() {
		f.store.dataMu.Lock()
		delete(f.store.copies, 5)
		f.store.dataMu.Unlock()
	}

	_, err := f.engine.Borrow(context.Background(), BorrowRequest{UserID: alice, Items: byIDs(4, 5)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, inventory.ErrCopyNotFound))
	assert.Equal(t, inventory.StatusAvailable, f.store.status(4))
	assert.Zero(t, f.store.loanCount())
}

// =========================================
// 额度
// =========================================

func TestBorrow_Quota(t *testing.T) {
	t.Run("图书满额后拒绝图书,期刊仍可借", func(t *testing.T) {
		f := newFixture(t, true)
		for id := uint(1); id <= 10; id++ {
			f.store.addLoan(alice, id, testNow, testNow.AddDate(0, 0, 30))
		}

		_, err := f.engine.Borrow(context.Background(), BorrowRequest{UserID: alice, Items: byIDs(11)})
		require.Error(t, err)
		assert.Equal(t, apperrors.KindQuotaExceeded, apperrors.KindOf(err))
		assert.Equal(t, []loan.QuotaViolation{
			{CategoryID: categoryBook, Category: "BOOK", Current: 10, Requested: 1, Max: 10},
		}, apperrors.GetAppError(err).Details)
		assert.Equal(t, "BOOK limit exceeded: current 10, requested 1, max 10", apperrors.GetAppError(err).Message)
		assert.Equal(t, inventory.StatusAvailable, f.store.status(11))

		resp, err := f.engine.Borrow(context.Background(), BorrowRequest{UserID: alice, Items: byIDs(21)})
		require.NoError(t, err)
		assert.Equal(t, []uint{21}, copyIDsOf(resp.Loans))
	})

	t.Run("混合批次整体拒绝", func(t *testing.T) {
		f := newFixture(t, true)
		for id := uint(1); id <= 10; id++ {
			f.store.addLoan(alice, id, testNow, testNow.AddDate(0, 0, 30))
		}

		_, err := f.engine.Borrow(context.Background(), BorrowRequest{UserID: alice, Items: byIDs(11, 21)})
		require.Error(t, err)
		assert.Equal(t, apperrors.KindQuotaExceeded, apperrors.KindOf(err))
		assert.Equal(t, inventory.StatusAvailable, f.store.status(21))
	})

	t.Run("单批次超过上限", func(t *testing.T) {
		f := newFixture(t, true)

		_, err := f.engine.Borrow(context.Background(), BorrowRequest{UserID: bob, Items: byIDs(21, 22, 23, 24, 25, 26)})
		require.Error(t, err)
		assert.Equal(t, []loan.QuotaViolation{
			{CategoryID: categoryJournal, Category: "JOURNAL", Current: 0, Requested: 6, Max: 5},
		}, apperrors.GetAppError(err).Details)
		assert.Zero(t, f.store.txCalls)
	})

	t.Run("未配置的分类不限额", func(t *testing.T) {
		f := newFixture(t, true)

		resp, err := f.engine.Borrow(context.Background(), BorrowRequest{UserID: bob, Items: byIDs(31, 32, 33, 34, 35)})
		require.NoError(t, err)
		assert.Len(t, resp.Loans, 5)
	})

	t.Run("额度按用户计算", func(t *testing.T) {
		f := newFixture(t, true)
		for id := uint(1); id <= 10; id++ {
			f.store.addLoan(alice, id, testNow, testNow.AddDate(0, 0, 30))
		}

		_, err := f.engine.Borrow(context.Background(), BorrowRequest{UserID: bob, Items: byIDs(11)})
		require.NoError(t, err)
	})
}

// TestBorrow_QuotaRace 同一用户的两个借阅都通过了预检查,再依次进入事务
func TestBorrow_QuotaRace(t *testing.T) {
	run := func(t *testing.T, strict bool) (successes int, quotaErrors int, f *fixture) {
		f = newFixture(t, strict)
		for id := uint(1); id <= 9; id++ {
			f.store.addLoan(alice, id, testNow, testNow.AddDate(0, 0, 30))
		}
		barrier := &sync.WaitGroup{}
		barrier.Add(2)
		f.store.txBarrier = barrier

		errs := make([]error, 2)
		var wg sync.WaitGroup
		for i, copyID := range []uint{10, 11} {
			wg.Add(1)
			go func(i int, copyID uint) {
				defer wg.Done()
				_, errs[i] = f.engine.Borrow(context.Background(), BorrowRequest{UserID: alice, Items: byIDs(copyID)})
			}(i, copyID)
		}
		wg.Wait()

		for _, err := range errs {
			switch {
			case err == nil:
				successes++
			case apperrors.KindOf(err) == apperrors.KindQuotaExceeded:
				quotaErrors++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		return successes, quotaErrors, f
	}

	t.Run("严格模式只放行一个", func(t *testing.T) {
		successes, quotaErrors, _ := run(t, true)
		assert.Equal(t, 1, successes)
		assert.Equal(t, 1, quotaErrors)
	})

	t.Run("非严格模式可能超额", func(t *testing.T) {
		successes, _, f := run(t, false)
		assert.Equal(t, 2, successes)
		counts, err := fakeLoans{f.store}.ActiveCategoryCounts(context.Background(), alice)
		require.NoError(t, err)
		assert.Equal(t, 11, counts[categoryBook])
	})
}

// =========================================
// 并发
// =========================================

func TestBorrow_ConcurrentSameCopy(t *testing.T) {
	f := newFixture(t, true)

	const workers = 8
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			userID := alice
			if i%2 == 1 {
				userID = bob
			}
			_, errs[i] = f.engine.Borrow(context.Background(), BorrowRequest{UserID: userID, Items: byIDs(1)})
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))
		assert.True(t, errors.Is(err, inventory.ErrCopyUnavailable))
	}
	assert.Equal(t, 1, successes)
	assert.Len(t, f.store.activeLoansFor(1), 1)
	assert.Equal(t, inventory.StatusBorrowed, f.store.status(1))
}

func TestBorrow_OverlappingBatches(t *testing.T) {
	f := newFixture(t, true)

	batches := [][]uint{{1, 2, 3}, {3, 4, 5}, {5, 6, 1}}
	errs := make([]error, len(batches))
	var wg sync.WaitGroup
	for i, batch := range batches {
		wg.Add(1)
		go func(i int, batch []uint) {
			defer wg.Done()
			_, errs[i] = f.engine.Borrow(context.Background(), BorrowRequest{UserID: bob, Items: byIDs(batch...)})
		}(i, batch)
	}
	wg.Wait()

	// 每个副本最多一条在借记录,借出状态与台账一致
	for id := uint(1); id <= 6; id++ {
		active := f.store.activeLoansFor(id)
		assert.LessOrEqual(t, len(active), 1)
		if len(active) == 1 {
			assert.Equal(t, inventory.StatusBorrowed, f.store.status(id))
		} else {
			assert.Equal(t, inventory.StatusAvailable, f.store.status(id))
		}
	}

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		}
	}
	assert.GreaterOrEqual(t, successes, 1)
}

func TestBorrow_LockContention(t *testing.T) {
	f := newFixture(t, true)
	f.store.txErr = apperrors.WrapCode(errors.New("Error 1205: Lock wait timeout exceeded"),
		apperrors.ErrCodeLockContention, "资源繁忙，请稍后重试")

	_, err := f.engine.Borrow(context.Background(), BorrowRequest{UserID: alice, Items: byIDs(1)})
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))
	assert.Equal(t, 1, f.store.txCalls, "引擎内部不重试")
}

func TestBorrow_InfrastructureError(t *testing.T) {
	f := newFixture(t, true)
	f.store.countErr = errors.New("connection refused")

	_, err := f.engine.Borrow(context.Background(), BorrowRequest{UserID: alice, Items: byIDs(1)})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindInternal, apperrors.KindOf(err))
	assert.False(t, apperrors.IsRetryable(err))
}

// =========================================
// 归还
// =========================================

func TestReturn_NotActive(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.engine.Borrow(ctx, BorrowRequest{UserID: alice, Items: byIDs(1, 2)})
	require.NoError(t, err)
	_, err = f.engine.Borrow(ctx, BorrowRequest{UserID: bob, Items: byIDs(4)})
	require.NoError(t, err)

	// 副本3在架,副本4是bob借的
	_, err = f.engine.Return(ctx, ReturnRequest{UserID: alice, Items: byIDs(1, 2, 3, 4)})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))
	assert.True(t, errors.Is(err, loan.ErrLoanNotActive))
	assert.Equal(t, map[string][]uint{"copy_ids": {3, 4}}, apperrors.GetAppError(err).Details)

	// 整批拒绝,副本1/2仍在借
	for _, id := range []uint{1, 2, 4} {
		assert.Equal(t, inventory.StatusBorrowed, f.store.status(id))
		assert.Len(t, f.store.activeLoansFor(id), 1)
	}
	assert.Equal(t, inventory.StatusAvailable, f.store.status(3))
}

func TestReturn_Validation(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.engine.Return(ctx, ReturnRequest{UserID: alice})
	assert.True(t, errors.Is(err, inventory.ErrEmptyBatch))

	_, err = f.engine.Return(ctx, ReturnRequest{UserID: 99, Items: byIDs(1)})
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))

	_, err = f.engine.Return(ctx, ReturnRequest{UserID: alice, Items: byIDs(999)})
	assert.True(t, errors.Is(err, inventory.ErrCopyNotFound))

	_, err = f.engine.Return(ctx, ReturnRequest{UserID: alice, Items: []inventory.CopyRef{inventory.ByBarcode("NOPE")}})
	assert.True(t, errors.Is(err, inventory.ErrBarcodeNotFound))

	assert.Zero(t, f.store.txCalls)
}

func TestReturn_DeletedCopyStaysDeleted(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	resp, err := f.engine.Borrow(ctx, BorrowRequest{UserID: alice, Items: byIDs(1)})
	require.NoError(t, err)

	f.store.dataMu.Lock()
	f.store.copies[1].Status = inventory.StatusDeleted
	f.store.dataMu.Unlock()

	_, err = f.engine.Return(ctx, ReturnRequest{UserID: alice, Items: byIDs(1)})
	require.NoError(t, err)
	assert.Equal(t, inventory.StatusDeleted, f.store.status(1))
	assert.False(t, f.store.loan(resp.Loans[0].LoanID).IsActive())
}

func TestBorrowReturnBorrow(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	first, err := f.engine.Borrow(ctx, BorrowRequest{UserID: alice, Items: byIDs(9)})
	require.NoError(t, err)

	_, err = f.engine.Borrow(ctx, BorrowRequest{UserID: bob, Items: byIDs(9)})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))

	_, err = f.engine.Return(ctx, ReturnRequest{UserID: alice, Items: byIDs(9)})
	require.NoError(t, err)

	second, err := f.engine.Borrow(ctx, BorrowRequest{UserID: bob, Items: byIDs(9)})
	require.NoError(t, err)
	assert.NotEqual(t, first.Loans[0].LoanID, second.Loans[0].LoanID)

	// 历史记录保留,在借记录只有一条
	assert.Equal(t, 2, f.store.loanCount())
	active := f.store.activeLoansFor(9)
	require.Len(t, active, 1)
	assert.Equal(t, bob, active[0].UserID)
}

func TestReturnSingle(t *testing.T) {
	t.Run("重复归还保持第一次的归还时间", func(t *testing.T) {
		f := newFixture(t, true)
		ctx := context.Background()

		resp, err := f.engine.Borrow(ctx, BorrowRequest{UserID: alice, Items: byIDs(3)})
		require.NoError(t, err)
		loanID := resp.Loans[0].LoanID

		f.now = testNow.AddDate(0, 0, 2)
		first, err := f.engine.ReturnSingle(ctx, loanID)
		require.NoError(t, err)
		assert.Equal(t, ReturnSingleResponse{LoanID: loanID, CopyID: 3, ReturnedAt: testNow.AddDate(0, 0, 2)}, *first)
		assert.Equal(t, inventory.StatusAvailable, f.store.status(3))

		f.now = testNow.AddDate(0, 0, 5)
		second, err := f.engine.ReturnSingle(ctx, loanID)
		require.NoError(t, err)
		assert.True(t, second.AlreadyReturned)
		assert.Equal(t, first.ReturnedAt, second.ReturnedAt)
		assert.Equal(t, testNow.AddDate(0, 0, 2), *f.store.loan(loanID).ReturnedAt)

		// 已归还的副本不能再按用户批量归还
		_, err = f.engine.Return(ctx, ReturnRequest{UserID: alice, Items: byIDs(3)})
		assert.True(t, errors.Is(err, loan.ErrLoanNotActive))
	})

	t.Run("不会影响同一副本的新借阅", func(t *testing.T) {
		f := newFixture(t, true)
		ctx := context.Background()

		first, err := f.engine.Borrow(ctx, BorrowRequest{UserID: alice, Items: byIDs(3)})
		require.NoError(t, err)
		_, err = f.engine.ReturnSingle(ctx, first.Loans[0].LoanID)
		require.NoError(t, err)
		_, err = f.engine.Borrow(ctx, BorrowRequest{UserID: bob, Items: byIDs(3)})
		require.NoError(t, err)

		again, err := f.engine.ReturnSingle(ctx, first.Loans[0].LoanID)
		require.NoError(t, err)
		assert.True(t, again.AlreadyReturned)
		assert.Equal(t, inventory.StatusBorrowed, f.store.status(3))
	})

	t.Run("参数与不存在", func(t *testing.T) {
		f := newFixture(t, true)

		_, err := f.engine.ReturnSingle(context.Background(), 0)
		assert.Equal(t, apperrors.KindInvalidRequest, apperrors.KindOf(err))

		_, err = f.engine.ReturnSingle(context.Background(), 12345)
		assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
		assert.True(t, errors.Is(err, loan.ErrLoanNotFound))
	})
}

// =========================================
// 查询
// =========================================

func TestActiveLoans(t *testing.T) {
	f := newFixture(t, true)
	f.store.addLoan(alice, 5, testNow.AddDate(0, 0, -40), testNow.AddDate(0, 0, -10))
	f.store.addLoan(alice, 2, testNow.AddDate(0, 0, -1), testNow.AddDate(0, 0, 29))
	f.store.addLoan(bob, 3, testNow, testNow.AddDate(0, 0, 30))

	loans, err := f.engine.ActiveLoans(context.Background(), alice)
	require.NoError(t, err)
	require.Len(t, loans, 2)
	assert.Equal(t, uint(2), loans[0].CopyID)
	assert.False(t, loans[0].Overdue)
	assert.Equal(t, uint(5), loans[1].CopyID)
	assert.True(t, loans[1].Overdue)

	_, err = f.engine.ActiveLoans(context.Background(), 99)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestDueLoans(t *testing.T) {
	f := newFixture(t, true)
	soon := f.store.addLoan(alice, 1, testNow.AddDate(0, 0, -28), testNow.AddDate(0, 0, 2))
	late := f.store.addLoan(bob, 21, testNow.AddDate(0, 0, -15), testNow.AddDate(0, 0, -1))
	f.store.addLoan(alice, 2, testNow, testNow.AddDate(0, 0, 10))
	returned := f.store.addLoan(bob, 3, testNow.AddDate(0, 0, -30), testNow)
	f.store.loans[returned].MarkReturned(testNow)

	t.Run("窗口内含已逾期", func(t *testing.T) {
		resp, err := f.engine.DueLoans(context.Background(), DueLoansRequest{WithinDays: 3})
		require.NoError(t, err)
		require.Len(t, resp.Items, 2)

		assert.Equal(t, DueLoanItem{
			LoanID: soon, UserID: alice, Username: "alice", CopyID: 1, Barcode: "BC-0001",
			BookTitle: "Go程序设计语言", DueAt: testNow.AddDate(0, 0, 2), DaysLeft: 2, Kind: loan.DueSoon,
		}, resp.Items[0])
		assert.Equal(t, late, resp.Items[1].LoanID)
		assert.Equal(t, -1, resp.Items[1].DaysLeft)
		assert.Equal(t, loan.Overdue, resp.Items[1].Kind)
		assert.Zero(t, resp.NextAfterID)
	})

	t.Run("游标分页", func(t *testing.T) {
		var seen []uint
		var afterID uint
		for page := 0; page < 5; page++ {
			resp, err := f.engine.DueLoans(context.Background(), DueLoansRequest{WithinDays: 3, AfterID: afterID, Limit: 1})
			require.NoError(t, err)
			for _, item := range resp.Items {
				seen = append(seen, item.LoanID)
			}
			if resp.NextAfterID == 0 {
				break
			}
			afterID = resp.NextAfterID
		}
		assert.Equal(t, []uint{soon, late}, seen)
	})

	t.Run("窗口天数为负", func(t *testing.T) {
		_, err := f.engine.DueLoans(context.Background(), DueLoansRequest{WithinDays: -1})
		assert.Equal(t, apperrors.KindInvalidRequest, apperrors.KindOf(err))
	})
}

// =========================================
// 链路追踪
// =========================================

func TestEngine_Spans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = tp.Shutdown(context.Background())
	})

	f := newFixture(t, true)
	_, err := f.engine.Borrow(context.Background(), BorrowRequest{UserID: alice, Items: byIDs(1)})
	require.NoError(t, err)
	_, err = f.engine.Borrow(context.Background(), BorrowRequest{UserID: bob, Items: byIDs(1)})
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, opBorrow, spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}
