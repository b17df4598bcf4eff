package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/listiago/atendechat/pkg/domain"
	"github.com/listiago/atendechat/pkg/worker"
)

func (e *Engine) execIntegration(ctx context.Context, ec *domain.ExecutionContext, node *domain.Node) (string, error) {
	data := node.Integration
	if data == nil {
		return "", missingPayload(ec, node)
	}
	if e.invoker == nil {
		return "", errors.New("no integration invoker configured")
	}

	timeout := data.Timeout()
	if timeout <= 0 {
		timeout = e.integrationTimeout
	}
	call := domain.IntegrationCall{
		Name:      data.Name,
		Args:      renderArgs(data.Args, ec.Variables),
		ContextID: ec.ID,
		NodeID:    node.ID,
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	result, invokeErr := worker.Do(callCtx, e.pool, func(ctx context.Context) (domain.IntegrationResult, error) {
		return e.invoker.Invoke(ctx, call)
	})
	if invokeErr != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		code := domain.HandleError
		if errors.Is(invokeErr, context.DeadlineExceeded) {
			code = domain.HandleTimeout
		}
		e.logger.Warn("integration call failed", "context_id", ec.ID, "node_id", node.ID, "integration", data.Name, "code", code, "err", invokeErr)
		result = domain.IntegrationResult{Code: code, Output: invokeErr.Error()}
	}

	tag, err := branchTag(data, result, ec.Variables)
	if err != nil {
		return "", &domain.GraphIntegrityError{FlowID: flowID(ec), NodeID: node.ID, Reason: "branch rule failed", Err: err}
	}
	if data.SaveTo != "" {
		ec.Variables[data.SaveTo] = result.Output
	}

	next, err := resolveEdge(ec.Flow, node, tag)
	if err != nil {
		var gerr *domain.GraphIntegrityError
		if errors.As(err, &gerr) {
			gerr.Reason = fmt.Sprintf("unmapped result code %q: %s", result.Code, gerr.Reason)
			gerr.Err = invokeErr
		}
		return "", err
	}
	return next, nil
}

// branchTag maps an integration result to a connection tag.
// Rules are tried first, then the branch table, then the code itself.
func branchTag(data *domain.IntegrationData, result domain.IntegrationResult, vars map[string]any) (string, error) {
	if len(data.Rules) > 0 {
		env := map[string]any{
			"code":   result.Code,
			"output": result.Output,
			"vars":   vars,
		}
		for _, rule := range data.Rules {
			program, err := compileRule(rule.When)
			if err != nil {
				return "", err
			}
			out, err := expr.Run(program, env)
			if err != nil {
				return "", fmt.Errorf("rule %q: %w", rule.When, err)
			}
			if ok, _ := out.(bool); ok {
				return rule.Tag, nil
			}
		}
	}
	if tag, ok := data.Branches[result.Code]; ok {
		return tag, nil
	}
	return result.Code, nil
}

var programs sync.Map

func compileRule(src string) (*vm.Program, error) {
	if p, ok := programs.Load(src); ok {
		return p.(*vm.Program), nil
	}
	program, err := expr.Compile(src, expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile rule %q: %w", src, err)
	}
	programs.Store(src, program)
	return program, nil
}

// CompileRule reports whether a branch expression is well formed.
func CompileRule(src string) error {
	_, err := compileRule(src)
	return err
}
