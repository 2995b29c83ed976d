// internal/service/coupon/domain/port/rule.go
package port

// RuleEngine 评估批次上可选的适用性规则（例如最低消费门槛）。
// 规则为空字符串时调用方应跳过评估。
type RuleEngine interface {
	Evaluate(rule string, facts map[string]interface{}) (bool, error)
}
