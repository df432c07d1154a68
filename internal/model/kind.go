package model

// ============================================================================
// 交易类型
// ============================================================================
//
// 交易类型按方向分为三类，各自是独立的 Go 类型：
//
//   CreditKind    入账（奖励、返佣、收到的打赏），唯一可以带过期时间的类型
//   DebitKind     用户消费（订阅、打赏、广告、加推、购买内容），按比例销毁
//   DeductionKind 系统扣减（过期、人工扣减），不销毁
//
// AccrualService.Credit 只接收 CreditKind，SpendService.Debit 只接收 DebitKind，
// 过期时间只能通过 NewCreditEntry 写入，编译期就杜绝了"消费条目带过期时间"。
//
// ============================================================================

// Direction 账本条目方向
type Direction string

const (
	DirectionCredit    Direction = "CREDIT"
	DirectionDebit     Direction = "DEBIT"
	DirectionDeduction Direction = "DEDUCTION"
)

// Kind 所有交易类型的公共接口
type Kind interface {
	Code() string
	Direction() Direction
	kind()
}

// CreditKind 入账类型
type CreditKind struct {
	code      string
	configKey string // 未传金额时从 ConfigStore 读取的 key，空表示必须由调用方给出金额
	// capped 计入每日/每月奖励上限
	capped bool
	// commissionable 被推荐人获得该类型奖励时给推荐人返佣
	commissionable bool
	// received 来自其他用户的转入，计入 TotalReceived
	received bool
	// system 只能由奖励/返佣流程发放，对外入账接口不接受
	system bool
}

func (k CreditKind) Code() string         { return k.code }
func (k CreditKind) Direction() Direction { return DirectionCredit }
func (k CreditKind) ConfigKey() string    { return k.configKey }
func (k CreditKind) Capped() bool         { return k.capped }
func (k CreditKind) Commissionable() bool { return k.commissionable }
func (k CreditKind) Received() bool       { return k.received }
func (k CreditKind) System() bool         { return k.system }
func (CreditKind) kind()                  {}

// DebitKind 消费类型
type DebitKind struct {
	code string
}

func (k DebitKind) Code() string         { return k.code }
func (k DebitKind) Direction() Direction { return DirectionDebit }
func (DebitKind) kind()                  {}

// DeductionKind 系统扣减类型
type DeductionKind struct {
	code string
}

func (k DeductionKind) Code() string         { return k.code }
func (k DeductionKind) Direction() Direction { return DirectionDeduction }
func (DeductionKind) kind()                  {}

// 入账类型
var (
	KindBonoBienvenida      = CreditKind{code: "BonoBienvenida", configKey: KeyBonoBienvenida, system: true}
	KindBonoReferidor       = CreditKind{code: "BonoReferidor", configKey: KeyBonoReferidor, system: true}
	KindBonoReferido        = CreditKind{code: "BonoReferido", configKey: KeyBonoReferido, system: true}
	KindBonoCreadorReferido = CreditKind{code: "BonoCreadorReferido", configKey: KeyBonoCreadorReferido, system: true}
	KindLoginDiario         = CreditKind{code: "LoginDiario", configKey: KeyLoginDiario, capped: true, commissionable: true, system: true}
	KindRachaSemanal        = CreditKind{code: "RachaSemanal", configKey: KeyRachaSemanal, capped: true, commissionable: true, system: true}
	KindBonoLikes           = CreditKind{code: "BonoLikes", configKey: KeyBonoLikes, capped: true, commissionable: true, system: true}
	KindBonoComentarios     = CreditKind{code: "BonoComentarios", configKey: KeyBonoComentarios, capped: true, commissionable: true, system: true}
	KindBonoContenido       = CreditKind{code: "BonoContenido", configKey: KeyBonoContenido, capped: true, commissionable: true, system: true}
	KindComisionReferido    = CreditKind{code: "ComisionReferido", capped: true, system: true}
	KindPropinaRecibida     = CreditKind{code: "PropinaRecibida", received: true}
	KindVentaContenido      = CreditKind{code: "VentaContenido", received: true}
	KindAjusteManualCredito = CreditKind{code: "AjusteManualCredito"}
)

// 消费类型
var (
	KindPagoSuscripcion     = DebitKind{code: "PagoSuscripcion"}
	KindPropina             = DebitKind{code: "Propina"}
	KindCreditoPublicitario = DebitKind{code: "CreditoPublicitario"}
	KindBoostAlgoritmo      = DebitKind{code: "BoostAlgoritmo"}
	KindCompraContenido     = DebitKind{code: "CompraContenido"}
)

// 扣减类型
var (
	KindVencimiento        = DeductionKind{code: "Vencimiento"}
	KindAjusteManualDebito = DeductionKind{code: "AjusteManualDebito"}
)

var (
	creditKinds = []CreditKind{
		KindBonoBienvenida, KindBonoReferidor, KindBonoReferido, KindBonoCreadorReferido,
		KindLoginDiario, KindRachaSemanal, KindBonoLikes, KindBonoComentarios, KindBonoContenido,
		KindComisionReferido, KindPropinaRecibida, KindVentaContenido, KindAjusteManualCredito,
	}
	debitKinds = []DebitKind{
		KindPagoSuscripcion, KindPropina, KindCreditoPublicitario, KindBoostAlgoritmo, KindCompraContenido,
	}
	deductionKinds = []DeductionKind{KindVencimiento, KindAjusteManualDebito}
)

// ParseCreditKind 按 code 查找入账类型
func ParseCreditKind(code string) (CreditKind, bool) {
	for _, k := range creditKinds {
		if k.code == code {
			return k, true
		}
	}
	return CreditKind{}, false
}

// ParseDebitKind 按 code 查找消费类型
func ParseDebitKind(code string) (DebitKind, bool) {
	for _, k := range debitKinds {
		if k.code == code {
			return k, true
		}
	}
	return DebitKind{}, false
}

// ParseDeductionKind 按 code 查找扣减类型（Vencimiento 只能由过期任务写入，不对外开放）
func ParseDeductionKind(code string) (DeductionKind, bool) {
	for _, k := range deductionKinds {
		if k.code == code && k != KindVencimiento {
			return k, true
		}
	}
	return DeductionKind{}, false
}

// ParseKind 按 code 查找任意类型，用于从数据库还原
func ParseKind(code string) (Kind, bool) {
	if k, ok := ParseCreditKind(code); ok {
		return k, true
	}
	if k, ok := ParseDebitKind(code); ok {
		return k, true
	}
	for _, k := range deductionKinds {
		if k.code == code {
			return k, true
		}
	}
	return nil, false
}

// CappedCreditCodes 计入奖励上限的入账类型 code
func CappedCreditCodes() []string {
	var codes []string
	for _, k := range creditKinds {
		if k.capped {
			codes = append(codes, k.code)
		}
	}
	return codes
}

// CreditCodes 所有入账类型 code
func CreditCodes() []string {
	codes := make([]string, 0, len(creditKinds))
	for _, k := range creditKinds {
		codes = append(codes, k.code)
	}
	return codes
}
