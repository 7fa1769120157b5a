package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	pkgerrors "github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/qtrade/riskcore/internal/confirm"
	"github.com/qtrade/riskcore/internal/risk"
	"github.com/qtrade/riskcore/pkg/logger"
)

// Config riskcored 全量配置。
// 时长一律用字符串（"30m"），金额用 float64，Build* 方法转换并校验成
// 各组件自己的配置类型——组件配置不感知 yaml 细节。
type Config struct {
	Logger logger.Config `yaml:"logger"`

	Risk struct {
		DailyLossLimit         float64 `yaml:"dailyLossLimit"`
		Cooldown               string  `yaml:"cooldown"`
		RecoveryRiskMultiplier float64 `yaml:"recoveryRiskMultiplier"`
		NormalMarginCeiling    float64 `yaml:"normalMarginCeiling"`
		RecoveryMarginCeiling  float64 `yaml:"recoveryMarginCeiling"`
		CallbackTimeout        string  `yaml:"callbackTimeout"`
		LockedUntilDayStart    *bool   `yaml:"lockedUntilDayStart"` // 缺省 true
	} `yaml:"risk"`

	Breaker struct {
		DailyLossPct         float64   `yaml:"dailyLossPct"`
		PositionLossPct      float64   `yaml:"positionLossPct"`
		MarginUsagePct       float64   `yaml:"marginUsagePct"`
		MaxConsecutiveLosses int       `yaml:"maxConsecutiveLosses"`
		TriggerHold          string    `yaml:"triggerHold"`
		CoolingDuration      string    `yaml:"coolingDuration"`
		RecoverySteps        []float64 `yaml:"recoverySteps"`
		RecoveryStepInterval string    `yaml:"recoveryStepInterval"`
	} `yaml:"breaker"`

	Gate struct {
		SoftNotional        float64  `yaml:"softNotional"`
		HardNotional        float64  `yaml:"hardNotional"`
		HFTMaxNotional      float64  `yaml:"hftMaxNotional"`
		HFTSymbols          []string `yaml:"hftSymbols"`
		MaxPriceDeviation   float64  `yaml:"maxPriceDeviation"`
		MaxOrderNotional    float64  `yaml:"maxOrderNotional"`
		HardConfirmTimeout  string   `yaml:"hardConfirmTimeout"`
		RecoveryWindow      string   `yaml:"recoveryWindow"`
		DaySessionStartHour int      `yaml:"daySessionStartHour"`
		DaySessionEndHour   int      `yaml:"daySessionEndHour"`
	} `yaml:"gate"`

	Audit struct {
		Dir    string `yaml:"dir"`    // 默认 data/audit
		Sink   string `yaml:"sink"`   // jsonl | sqlite，默认 jsonl
		Mirror bool   `yaml:"mirror"` // 额外写滚动镜像文件
	} `yaml:"audit"`

	Registry struct {
		BadgerPath string `yaml:"badgerPath"` // 空串 = 纯内存
	} `yaml:"registry"`

	Approval struct {
		Mode     string `yaml:"mode"` // manual | http，默认 manual
		Endpoint string `yaml:"endpoint"`
		Token    string `yaml:"token"`
	} `yaml:"approval"`

	Executor struct {
		MaxRejections int `yaml:"maxRejections"`
	} `yaml:"executor"`

	Server struct {
		ListenAddr  string `yaml:"listenAddr"`  // 控制面，默认 :8080
		MetricsAddr string `yaml:"metricsAddr"` // expvar/pprof，空串 = 不启用
	} `yaml:"server"`

	TickInterval string           `yaml:"tickInterval"` // 默认 1s
	Multipliers  map[string]int64 `yaml:"multipliers"`  // symbol -> 合约乘数
}

// Load 读取 yaml 配置并套用环境变量覆盖。
// 先尝试加载 .env（不存在不报错），再读 RISKCORE_* 变量。
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "read config")
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, pkgerrors.Wrap(err, "parse config")
	}
	c.applyEnv()
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("RISKCORE_LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("RISKCORE_METRICS_ADDR"); v != "" {
		c.Server.MetricsAddr = v
	}
	if v := os.Getenv("RISKCORE_LOG_LEVEL"); v != "" {
		c.Logger.Level = v
	}
	if v := os.Getenv("RISKCORE_APPROVAL_TOKEN"); v != "" {
		c.Approval.Token = v
	}
	if v := os.Getenv("RISKCORE_AUDIT_DIR"); v != "" {
		c.Audit.Dir = v
	}
	if v := os.Getenv("RISKCORE_BADGER_PATH"); v != "" {
		c.Registry.BadgerPath = v
	}
}

func (c *Config) applyDefaults() {
	if c.Audit.Dir == "" {
		c.Audit.Dir = "data/audit"
	}
	if c.Audit.Sink == "" {
		c.Audit.Sink = "jsonl"
	}
	if c.Approval.Mode == "" {
		c.Approval.Mode = "manual"
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.TickInterval == "" {
		c.TickInterval = "1s"
	}
}

// BuildRisk 组装风控状态机配置。
func (c *Config) BuildRisk() (risk.ManagerConfig, error) {
	cooldown, err := optDuration(c.Risk.Cooldown)
	if err != nil {
		return risk.ManagerConfig{}, fmt.Errorf("risk.cooldown: %w", err)
	}
	cbTimeout, err := optDuration(c.Risk.CallbackTimeout)
	if err != nil {
		return risk.ManagerConfig{}, fmt.Errorf("risk.callbackTimeout: %w", err)
	}
	locked := true
	if c.Risk.LockedUntilDayStart != nil {
		locked = *c.Risk.LockedUntilDayStart
	}
	rc := risk.ManagerConfig{
		DailyLossLimit:         c.Risk.DailyLossLimit,
		Cooldown:               cooldown,
		RecoveryRiskMultiplier: c.Risk.RecoveryRiskMultiplier,
		NormalMarginCeiling:    c.Risk.NormalMarginCeiling,
		RecoveryMarginCeiling:  c.Risk.RecoveryMarginCeiling,
		CallbackTimeout:        cbTimeout,
		LockedUntilDayStart:    locked,
	}
	return rc, rc.Validate()
}

// BuildBreaker 组装断路器配置。
func (c *Config) BuildBreaker() (risk.BreakerConfig, error) {
	hold, err := optDuration(c.Breaker.TriggerHold)
	if err != nil {
		return risk.BreakerConfig{}, fmt.Errorf("breaker.triggerHold: %w", err)
	}
	cooling, err := optDuration(c.Breaker.CoolingDuration)
	if err != nil {
		return risk.BreakerConfig{}, fmt.Errorf("breaker.coolingDuration: %w", err)
	}
	stepIv, err := optDuration(c.Breaker.RecoveryStepInterval)
	if err != nil {
		return risk.BreakerConfig{}, fmt.Errorf("breaker.recoveryStepInterval: %w", err)
	}
	bc := risk.BreakerConfig{
		Thresholds: risk.BreakerThresholds{
			DailyLossPct:         c.Breaker.DailyLossPct,
			PositionLossPct:      c.Breaker.PositionLossPct,
			MarginUsagePct:       c.Breaker.MarginUsagePct,
			MaxConsecutiveLosses: c.Breaker.MaxConsecutiveLosses,
		},
		TriggerHold:          hold,
		CoolingDuration:      cooling,
		RecoverySteps:        c.Breaker.RecoverySteps,
		RecoveryStepInterval: stepIv,
	}
	return bc, bc.Validate()
}

// BuildGate 组装确认闸口配置。
func (c *Config) BuildGate() (confirm.GateConfig, error) {
	hardTimeout, err := optDuration(c.Gate.HardConfirmTimeout)
	if err != nil {
		return confirm.GateConfig{}, fmt.Errorf("gate.hardConfirmTimeout: %w", err)
	}
	recWindow, err := optDuration(c.Gate.RecoveryWindow)
	if err != nil {
		return confirm.GateConfig{}, fmt.Errorf("gate.recoveryWindow: %w", err)
	}
	gc := confirm.GateConfig{
		SoftNotional:        decimal.NewFromFloat(c.Gate.SoftNotional),
		HardNotional:        decimal.NewFromFloat(c.Gate.HardNotional),
		HFTMaxNotional:      decimal.NewFromFloat(c.Gate.HFTMaxNotional),
		HFTSymbols:          c.Gate.HFTSymbols,
		MaxPriceDeviation:   c.Gate.MaxPriceDeviation,
		MaxOrderNotional:    decimal.NewFromFloat(c.Gate.MaxOrderNotional),
		HardConfirmTimeout:  hardTimeout,
		RecoveryWindow:      recWindow,
		DaySessionStartHour: c.Gate.DaySessionStartHour,
		DaySessionEndHour:   c.Gate.DaySessionEndHour,
	}
	return gc, gc.Validate()
}

// BuildTickInterval 解析 tick 周期。
func (c *Config) BuildTickInterval() (time.Duration, error) {
	d, err := optDuration(c.TickInterval)
	if err != nil {
		return 0, fmt.Errorf("tickInterval: %w", err)
	}
	if d <= 0 {
		d = time.Second
	}
	return d, nil
}

// optDuration 空串返回 0（组件 Validate 负责默认值）。
func optDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
