package fake

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/iam/types"
)

// IAMClient answers SimulatePrincipalPolicy from a fixed set of denied actions.
type IAMClient struct {
	mu     sync.Mutex
	denied map[string]bool
	inputs []iam.SimulatePrincipalPolicyInput

	fail failures
}

// NewIAMClient creates a fake that denies the given actions and allows the rest.
func NewIAMClient(denied ...string) *IAMClient {
	m := &IAMClient{denied: make(map[string]bool)}
	for _, a := range denied {
		m.denied[a] = true
	}
	return m
}

// FailNext makes the next SimulatePrincipalPolicy call return err.
func (m *IAMClient) FailNext(err error) {
	m.fail.set("SimulatePrincipalPolicy", err)
}

// SimulatePrincipalPolicy evaluates each action against the denied set.
func (m *IAMClient) SimulatePrincipalPolicy(ctx context.Context, params *iam.SimulatePrincipalPolicyInput, optFns ...func(*iam.Options)) (*iam.SimulatePrincipalPolicyOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = append(m.inputs, *params)

	if err := m.fail.take("SimulatePrincipalPolicy"); err != nil {
		return nil, err
	}

	results := make([]types.EvaluationResult, 0, len(params.ActionNames))
	for _, action := range params.ActionNames {
		decision := types.PolicyEvaluationDecisionTypeAllowed
		if m.denied[action] {
			decision = types.PolicyEvaluationDecisionTypeImplicitDeny
		}
		results = append(results, types.EvaluationResult{
			EvalActionName:   aws.String(action),
			EvalResourceName: aws.String(firstOr(params.ResourceArns, "*")),
			EvalDecision:     decision,
		})
	}
	return &iam.SimulatePrincipalPolicyOutput{EvaluationResults: results}, nil
}

// Inputs returns the simulation requests made so far.
func (m *IAMClient) Inputs() []iam.SimulatePrincipalPolicyInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]iam.SimulatePrincipalPolicyInput(nil), m.inputs...)
}

func firstOr(values []string, fallback string) string {
	if len(values) > 0 {
		return values[0]
	}
	return fallback
}
