package inventory

import (
	"strings"
)

// RefKind 副本标识的类型
type RefKind int

const (
	RefInvalid   RefKind = iota // 既无ID也无条码
	RefByID                     // 按副本ID
	RefByBarcode                // 按条码
)

// CopyRef 副本标识(副本ID 或 条码,二选一)
// 两者同时给出时ID优先,条码被忽略
type CopyRef struct {
	CopyID  uint   `json:"copy_id,omitempty"`
	Barcode string `json:"barcode,omitempty"`
}

// ByID 按副本ID构造标识
func ByID(id uint) CopyRef {
	return CopyRef{CopyID: id}
}

// ByBarcode 按条码构造标识
func ByBarcode(barcode string) CopyRef {
	return CopyRef{Barcode: barcode}
}

// Kind 判断标识类型
func (r CopyRef) Kind() RefKind {
	if r.CopyID != 0 {
		return RefByID
	}
	if r.NormalizedBarcode() != "" {
		return RefByBarcode
	}
	return RefInvalid
}

// NormalizedBarcode 去除首尾空白后的条码
func (r CopyRef) NormalizedBarcode() string {
	return strings.TrimSpace(r.Barcode)
}
