package orchestrator

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/qtrade/riskcore/internal/domain"
)

// TickInput 一个 tick 的全部输入（采集后不可变）。
type TickInput struct {
	Account   domain.AccountSnapshot
	Positions []domain.Position
	Books     map[string]domain.BookTop // symbol -> 盘口一档
	Intents   []IntentRequest
}

// IntentRequest 上游递交的意图及其闸口上下文。
type IntentRequest struct {
	Intent     *domain.OrderIntent
	Class      string // 策略分类（确认闸口用）
	Multiplier int64  // 合约乘数（名义金额计算用），<=0 取 1
}

// SnapshotHash tick 输入的规范化哈希。
//
// 投影规则固定：权益/保证金一行，持仓与盘口按合约代码字典序各一行，
// 字段间 '|' 分隔、行间 '\n' 分隔，对整体取 SHA-256。
// 相同输入必然产生相同哈希——回放验证以此为对齐锚点。
// 意图与时间戳不参与：哈希刻画的是风控决策面对的市场/账户状态。
func SnapshotHash(in TickInput) string {
	var lines []string
	lines = append(lines, "equity|"+in.Account.Equity.String())
	lines = append(lines, "margin|"+in.Account.MarginUsed.String())

	pos := make([]domain.Position, len(in.Positions))
	copy(pos, in.Positions)
	sort.Slice(pos, func(i, j int) bool {
		if pos[i].Symbol != pos[j].Symbol {
			return pos[i].Symbol < pos[j].Symbol
		}
		return pos[i].Direction < pos[j].Direction
	})
	for _, p := range pos {
		lines = append(lines, strings.Join([]string{
			"pos", p.Symbol, string(p.Direction),
			strconv.FormatInt(p.Qty, 10),
			strconv.FormatInt(p.AvailableQty, 10),
		}, "|"))
	}

	symbols := make([]string, 0, len(in.Books))
	for s := range in.Books {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	for _, s := range symbols {
		b := in.Books[s]
		lines = append(lines, strings.Join([]string{
			"book", s, b.Bid.String(), b.Ask.String(), b.TickSize.String(),
		}, "|"))
	}

	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}
