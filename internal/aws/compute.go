package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// EC2Compute implements Compute against Amazon EC2.
type EC2Compute struct {
	client *ec2.Client
}

// NewEC2Compute creates a new EC2 compute lifecycle client.
func NewEC2Compute(cfg aws.Config) *EC2Compute {
	return &EC2Compute{client: ec2.NewFromConfig(cfg)}
}

// StartInstance starts the instance. Starting an instance that is already
// pending or running is accepted by EC2 without error, so repeated calls
// are safe.
func (c *EC2Compute) StartInstance(ctx context.Context, id string) error {
	_, err := c.client.StartInstances(ctx, &ec2.StartInstancesInput{
		InstanceIds: []string{id},
	})
	if err != nil {
		return fmt.Errorf("starting instance %s: %w", id, err)
	}
	return nil
}

// DescribeInstance returns the instance power state plus a health probe
// from the status checks.
func (c *EC2Compute) DescribeInstance(ctx context.Context, id string) (InstanceStatus, error) {
	out, err := c.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{id},
	})
	if err != nil {
		return InstanceStatus{}, fmt.Errorf("describing instance %s: %w", id, err)
	}
	if len(out.Reservations) == 0 || len(out.Reservations[0].Instances) == 0 {
		return InstanceStatus{}, &NotFoundError{Kind: "instance", Name: id}
	}

	state := mapInstanceState(out.Reservations[0].Instances[0].State.Name)
	status := InstanceStatus{State: state}

	if state == InstanceRunning {
		healthy, err := c.statusChecksOK(ctx, id)
		if err != nil {
			return InstanceStatus{}, err
		}
		status.Healthy = healthy
		if !healthy {
			status.State = InstanceUnhealthy
		}
	}

	return status, nil
}

func (c *EC2Compute) statusChecksOK(ctx context.Context, id string) (bool, error) {
	out, err := c.client.DescribeInstanceStatus(ctx, &ec2.DescribeInstanceStatusInput{
		InstanceIds:         []string{id},
		IncludeAllInstances: aws.Bool(true),
	})
	if err != nil {
		return false, fmt.Errorf("describing instance status %s: %w", id, err)
	}
	if len(out.InstanceStatuses) == 0 {
		return false, nil
	}

	st := out.InstanceStatuses[0]
	instanceOK := st.InstanceStatus != nil && st.InstanceStatus.Status == ec2types.SummaryStatusOk
	systemOK := st.SystemStatus != nil && st.SystemStatus.Status == ec2types.SummaryStatusOk
	return instanceOK && systemOK, nil
}

// TerminateInstance requests termination. EC2 accepts the call for
// instances that are already shutting down or terminated, so repeated
// calls are safe.
func (c *EC2Compute) TerminateInstance(ctx context.Context, id string) error {
	_, err := c.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{id},
	})
	if err != nil {
		return fmt.Errorf("terminating instance %s: %w", id, err)
	}
	return nil
}

func mapInstanceState(name ec2types.InstanceStateName) InstanceState {
	switch name {
	case ec2types.InstanceStateNamePending:
		return InstanceStarting
	case ec2types.InstanceStateNameRunning:
		return InstanceRunning
	case ec2types.InstanceStateNameStopping, ec2types.InstanceStateNameStopped:
		return InstanceStopped
	case ec2types.InstanceStateNameShuttingDown, ec2types.InstanceStateNameTerminated:
		return InstanceTerminated
	default:
		return InstanceState(name)
	}
}
