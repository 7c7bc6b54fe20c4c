package waker

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/han0110/zkevm-chain/internal/domain"
)

// EC2Credentials carries the control-plane credentials. Values are passed
// straight to the SDK and never logged.
type EC2Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
}

// EC2Control implements CloudControl against the EC2 control plane.
type EC2Control struct {
	client *ec2.Client
}

// NewEC2Control builds the client. When no static credentials are given
// it falls back to the SDK default chain (instance profile, env, shared
// config).
func NewEC2Control(ctx context.Context, creds EC2Credentials) (*EC2Control, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if creds.Region != "" {
		opts = append(opts, awsconfig.WithRegion(creds.Region))
	}
	if creds.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &EC2Control{client: ec2.NewFromConfig(cfg)}, nil
}

func (c *EC2Control) InstanceState(ctx context.Context, instanceID string) (domain.RunnerState, error) {
	out, err := c.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return domain.RunnerStateUnreachable, fmt.Errorf("describe instances: %w", err)
	}
	if len(out.Reservations) == 0 || len(out.Reservations[0].Instances) == 0 {
		return domain.RunnerStateUnreachable, fmt.Errorf("instance %s not found", instanceID)
	}

	state := out.Reservations[0].Instances[0].State
	if state == nil {
		return domain.RunnerStateUnreachable, fmt.Errorf("instance %s has no state", instanceID)
	}

	switch state.Name {
	case ec2types.InstanceStateNameRunning:
		return domain.RunnerStateReady, nil
	case ec2types.InstanceStateNamePending:
		return domain.RunnerStateWaking, nil
	case ec2types.InstanceStateNameStopped, ec2types.InstanceStateNameStopping:
		return domain.RunnerStateAsleep, nil
	default:
		// terminated or shutting-down: this host will never come up.
		return domain.RunnerStateUnreachable, nil
	}
}

func (c *EC2Control) StartInstance(ctx context.Context, instanceID string) error {
	_, err := c.client.StartInstances(ctx, &ec2.StartInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return fmt.Errorf("start instances: %w", err)
	}
	return nil
}
