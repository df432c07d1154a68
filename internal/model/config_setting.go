package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ConfigStore 的 key，后台可修改
const (
	KeyBonoBienvenida             = "BonoBienvenida"
	KeyBonoReferidor              = "BonoReferidor"
	KeyBonoReferido               = "BonoReferido"
	KeyBonoCreadorReferido        = "BonoCreadorReferido"
	KeyLoginDiario                = "LoginDiario"
	KeyRachaSemanal               = "RachaSemanal"
	KeyBonoLikes                  = "BonoLikes"
	KeyBonoComentarios            = "BonoComentarios"
	KeyBonoContenido              = "BonoContenido"
	KeyComisionReferidoPorcentaje = "ComisionReferidoPorcentaje"
	KeyPorcentajeQuema            = "PorcentajeQuema"
	KeyDiasVencimiento            = "DiasVencimiento"
	KeyMaxPremioDiario            = "MAX_PREMIO_DIARIO"
	KeyMaxPremioMensual           = "MAX_PREMIO_MENSUAL"
	KeyMesesComisionReferido      = "MesesComisionReferido"
)

// RequiredConfigKeys 启动时必须存在的 key，缺任何一个服务都不应启动
var RequiredConfigKeys = []string{
	KeyBonoBienvenida, KeyBonoReferidor, KeyBonoReferido, KeyBonoCreadorReferido,
	KeyLoginDiario, KeyRachaSemanal, KeyBonoLikes, KeyBonoComentarios, KeyBonoContenido,
	KeyComisionReferidoPorcentaje, KeyPorcentajeQuema, KeyDiasVencimiento,
	KeyMaxPremioDiario, KeyMaxPremioMensual, KeyMesesComisionReferido,
}

// ConfigSetting 数值配置表
type ConfigSetting struct {
	Key       string          `gorm:"column:config_key;type:varchar(64);primaryKey" json:"key"`
	Value     decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"value"`
	UpdatedBy string          `gorm:"type:varchar(64)" json:"updated_by"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ConfigSetting) TableName() string {
	return "config_setting"
}

// ConfigChange 配置修改审计
type ConfigChange struct {
	ID        int64               `gorm:"primaryKey;autoIncrement" json:"id"`
	Key       string              `gorm:"column:config_key;type:varchar(64);index;not null" json:"key"`
	OldValue  decimal.NullDecimal `gorm:"type:decimal(18,4)" json:"old_value"`
	NewValue  decimal.Decimal     `gorm:"type:decimal(18,4);not null" json:"new_value"`
	Operator  string              `gorm:"type:varchar(64);not null" json:"operator"`
	CreatedAt time.Time           `gorm:"autoCreateTime;index" json:"created_at"`
}

func (ConfigChange) TableName() string {
	return "config_change"
}
