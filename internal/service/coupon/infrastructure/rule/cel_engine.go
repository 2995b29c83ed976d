// internal/service/coupon/infrastructure/rule/cel_engine.go
package rule

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// CELRuleEngine 是 port.RuleEngine 的 CEL 实现。
// 批次上的适用性规则是形如 "fee >= 50.0" 的 CEL 表达式，
// 编译结果按规则文本缓存，校验路径上只付一次编译成本。
type CELRuleEngine struct {
	env      *cel.Env
	lock     sync.RWMutex
	programs map[string]cel.Program
}

// NewCELRuleEngine 创建规则引擎，声明规则可见的变量。
func NewCELRuleEngine() (*CELRuleEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("fee", cel.DoubleType),
		cel.Variable("beneficiaryKind", cel.StringType),
		cel.Variable("beneficiaryId", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cel environment: %w", err)
	}
	return &CELRuleEngine{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Evaluate 评估一条规则。表达式必须产出布尔值。
func (e *CELRuleEngine) Evaluate(ruleExpr string, facts map[string]interface{}) (bool, error) {
	prg, err := e.compile(ruleExpr)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(facts)
	if err != nil {
		return false, fmt.Errorf("rule evaluation failed: %w", err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule %q did not evaluate to a boolean, got %T", ruleExpr, out.Value())
	}
	return result, nil
}

func (e *CELRuleEngine) compile(ruleExpr string) (cel.Program, error) {
	e.lock.RLock()
	prg, ok := e.programs[ruleExpr]
	e.lock.RUnlock()
	if ok {
		return prg, nil
	}

	ast, iss := e.env.Compile(ruleExpr)
	if iss.Err() != nil {
		return nil, fmt.Errorf("invalid rule %q: %w", ruleExpr, iss.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build rule program: %w", err)
	}

	e.lock.Lock()
	e.programs[ruleExpr] = prg
	e.lock.Unlock()
	return prg, nil
}
