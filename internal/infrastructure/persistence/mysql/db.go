package mysql

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/xiebiao/circulation/internal/infrastructure/config"
)

// NewDB 创建数据库连接
// 设计说明：
// 1. 使用GORM v2作为ORM框架
// 2. 行锁等待超时通过DSN下发为会话变量（见config.DatabaseConfig.DSN）
// 3. 开发环境开启SQL日志，生产环境关闭
// 4. AutoMigrate由配置控制，生产环境关闭并使用迁移脚本
func NewDB(cfg *config.Config, log *zap.Logger) (*gorm.DB, error) {
	// 1. 配置GORM日志
	logLevel := logger.Silent
	if cfg.Server.Mode == "debug" {
		logLevel = logger.Info // 开发环境打印SQL
	}

	// 2. 连接数据库
	db, err := gorm.Open(mysql.Open(cfg.Database.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	// 3. 配置连接池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取SQL DB失败: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	// 4. 测试连接
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}

	log.Info("数据库连接成功",
		zap.String("host", cfg.Database.Host),
		zap.String("db", cfg.Database.DBName),
		zap.Int("lock_wait_timeout", cfg.Database.LockWaitTimeout),
	)

	// 5. 自动迁移表结构（开发环境）
	if cfg.Database.AutoMigrate {
		if err := AutoMigrate(db); err != nil {
			return nil, fmt.Errorf("数据库迁移失败: %w", err)
		}
		log.Info("表结构迁移完成")
	}

	return db, nil
}

// AutoMigrate 自动迁移表结构
// 注意：AutoMigrate只会创建表、添加字段和索引，不会删除或修改现有字段
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&UserModel{},
		&CategoryModel{},
		&BookModel{},
		&BranchModel{},
		&CopyModel{},
		&LoanModel{},
	)
}

// UserModel 借阅者
// 借还流程只检查存在性；严格额度模式下锁定该行，串行化同一用户的借阅
type UserModel struct {
	ID        uint      `gorm:"primaryKey"`
	Username  string    `gorm:"uniqueIndex;size:64;not null;comment:用户名"`
	Role      string    `gorm:"size:32;not null;default:reader;comment:角色"`
	CreatedAt time.Time `gorm:"comment:创建时间"`
	UpdatedAt time.Time `gorm:"comment:更新时间"`
}

// TableName 指定表名
func (UserModel) TableName() string {
	return "users"
}

// CategoryModel 图书分类
// 教学要点：
// 1. category标签决定额度分类（BOOK/JOURNAL），与loan.QuotaPolicy的键对应
// 2. rule_loan_period_days为0时使用系统默认借期
type CategoryModel struct {
	ID                 uint   `gorm:"primaryKey"`
	Category           string `gorm:"column:category;uniqueIndex;size:64;not null;comment:分类标签"`
	RuleMaxConcurrent  int    `gorm:"not null;default:0;comment:同时在借上限"`
	RuleLoanPeriodDays int    `gorm:"not null;default:0;comment:借期(天)"`
}

// TableName 指定表名
func (CategoryModel) TableName() string {
	return "book_categories"
}

// BookModel 书目（一种书，可以有多个副本）
type BookModel struct {
	ID            uint   `gorm:"primaryKey"`
	UniqueBookKey string `gorm:"uniqueIndex;size:64;not null;comment:书目唯一键(如ISBN)"`
	Title         string `gorm:"size:200;not null;comment:书名"`
	Author        string `gorm:"size:100;not null;comment:作者"`
	PublishYear   int    `gorm:"comment:出版年份"`
	CategoryID    uint   `gorm:"index;not null;comment:分类ID"`
}

// TableName 指定表名
func (BookModel) TableName() string {
	return "books"
}

// BranchModel 分馆
type BranchModel struct {
	ID      uint   `gorm:"primaryKey"`
	Name    string `gorm:"size:100;not null;comment:分馆名称"`
	Address string `gorm:"size:255;comment:地址"`
}

// TableName 指定表名
func (BranchModel) TableName() string {
	return "library_branches"
}

// CopyModel 馆藏副本
// 教学要点：
// 1. 借还流程按主键加锁（SELECT ... WHERE id IN ? ORDER BY id FOR UPDATE）
// 2. status使用字符串（AVAILABLE/BORROWED/DELETED），与领域层CopyStatus一致
type CopyModel struct {
	ID        uint      `gorm:"primaryKey"`
	BookID    uint      `gorm:"index;not null;comment:书目ID"`
	BranchID  uint      `gorm:"index;not null;comment:分馆ID"`
	Barcode   string    `gorm:"uniqueIndex;size:64;not null;comment:条码"`
	Status    string    `gorm:"size:16;not null;default:AVAILABLE;comment:状态(AVAILABLE/BORROWED/DELETED)"`
	CreatedAt time.Time `gorm:"comment:创建时间"`
	UpdatedAt time.Time `gorm:"comment:更新时间"`
}

// TableName 指定表名
func (CopyModel) TableName() string {
	return "book_copies"
}

// LoanModel 借阅台账
// 索引设计：
// 1. idx_loans_user_active(borrowed_user_id, returned_at, copy_id)：
//    归还时按"用户 + 在借 + 副本"加锁读取，只锁命中的索引记录
// 2. idx_loans_due(returned_at, due_at)：到期提醒扫描
// 3. idx_loans_copy(copy_id)：按副本查询借阅历史
type LoanModel struct {
	ID         uint       `gorm:"primaryKey"`
	UserID     uint       `gorm:"column:borrowed_user_id;not null;index:idx_loans_user_active,priority:1;comment:借阅者ID"`
	ReturnedAt *time.Time `gorm:"index:idx_loans_user_active,priority:2;index:idx_loans_due,priority:1;comment:归还时间(NULL=在借)"`
	CopyID     uint       `gorm:"not null;index:idx_loans_user_active,priority:3;index:idx_loans_copy;comment:副本ID"`
	BorrowedAt time.Time  `gorm:"not null;comment:借出时间"`
	DueAt      time.Time  `gorm:"not null;index:idx_loans_due,priority:2;comment:应还时间"`
}

// TableName 指定表名
func (LoanModel) TableName() string {
	return "loans"
}
