// Package preflight checks that the identity pool's role may perform every
// call the profile flows make, before any flow runs.
package preflight

import (
	"context"
	"fmt"
	"sort"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/gurre/cognito-profile/aws"
	"github.com/gurre/cognito-profile/errs"
)

// TableActions are the DynamoDB actions used by the profile store.
var TableActions = []string{"dynamodb:GetItem", "dynamodb:PutItem", "dynamodb:DeleteItem"}

// BucketActions are the S3 actions used by the avatar store.
var BucketActions = []string{"s3:GetObject", "s3:PutObject", "s3:DeleteObject"}

// Denial is an action the role may not perform on a resource.
type Denial struct {
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Decision string `json:"decision"`
}

// Result lists the denied actions. An empty result means the role is
// sufficient.
type Result struct {
	RoleARN string   `json:"roleArn"`
	Denied  []Denial `json:"denied"`
}

// OK reports whether nothing was denied.
func (r Result) OK() bool {
	return len(r.Denied) == 0
}

// TableARN builds the ARN of a DynamoDB table. An empty account id matches
// any account.
func TableARN(region, accountID, table string) string {
	if accountID == "" {
		accountID = "*"
	}
	return fmt.Sprintf("arn:aws:dynamodb:%s:%s:table/%s", region, accountID, table)
}

// BucketObjectsARN builds the ARN covering every object in bucket.
func BucketObjectsARN(bucket string) string {
	return fmt.Sprintf("arn:aws:s3:::%s/*", bucket)
}

// Check simulates the role's policies against the table and bucket actions.
func Check(ctx context.Context, client aws.IAMClient, roleARN, tableARN, bucket string) (Result, error) {
	if roleARN == "" {
		return Result{}, errs.Precondition("preflight", "role ARN is required")
	}

	result := Result{RoleARN: roleARN}
	checks := []struct {
		resource string
		actions  []string
	}{
		{tableARN, TableActions},
		{BucketObjectsARN(bucket), BucketActions},
	}

	for _, c := range checks {
		denied, err := simulate(ctx, client, roleARN, c.resource, c.actions)
		if err != nil {
			return Result{}, err
		}
		result.Denied = append(result.Denied, denied...)
	}

	sort.Slice(result.Denied, func(i, j int) bool {
		return result.Denied[i].Action < result.Denied[j].Action
	})
	return result, nil
}

func simulate(ctx context.Context, client aws.IAMClient, roleARN, resource string, actions []string) ([]Denial, error) {
	var denied []Denial
	input := &iam.SimulatePrincipalPolicyInput{
		PolicySourceArn: awssdk.String(roleARN),
		ActionNames:     actions,
		ResourceArns:    []string{resource},
	}

	// Results are paginated for roles with many statements.
	for {
		out, err := client.SimulatePrincipalPolicy(ctx, input)
		if err != nil {
			return nil, errs.Transport("preflight.simulate", err)
		}
		for _, r := range out.EvaluationResults {
			if r.EvalDecision == types.PolicyEvaluationDecisionTypeAllowed {
				continue
			}
			denied = append(denied, Denial{
				Action:   awssdk.ToString(r.EvalActionName),
				Resource: resource,
				Decision: string(r.EvalDecision),
			})
		}
		if !out.IsTruncated || out.Marker == nil {
			break
		}
		input.Marker = out.Marker
	}
	return denied, nil
}
