package ecs

import (
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsecs "github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/ecs/types"

	"github.com/example/ecs-manage/internal/core/service"
	"github.com/example/ecs-manage/internal/ports/secondary"
)

// maxEvents bounds how many service events are carried in a snapshot.
const maxEvents = 5

func toServiceState(id service.ID, s types.Service) *service.ServiceState {
	state := &service.ServiceState{
		ID:             id,
		Status:         aws.ToString(s.Status),
		ActiveRevision: aws.ToString(s.TaskDefinition),
		DesiredCount:   int(s.DesiredCount),
		RunningCount:   int(s.RunningCount),
		PendingCount:   int(s.PendingCount),
		Definition:     toDefinition(s),
	}
	for _, d := range s.Deployments {
		state.Deployments = append(state.Deployments, service.DeploymentInfo{
			ID:           aws.ToString(d.Id),
			Status:       aws.ToString(d.Status),
			Revision:     aws.ToString(d.TaskDefinition),
			DesiredCount: int(d.DesiredCount),
			RunningCount: int(d.RunningCount),
			PendingCount: int(d.PendingCount),
			RolloutState: string(d.RolloutState),
		})
	}
	for i, e := range s.Events {
		if i == maxEvents {
			break
		}
		state.Events = append(state.Events, aws.ToString(e.Message))
	}
	return state
}

func toDefinition(s types.Service) service.Definition {
	def := service.Definition{
		LaunchType:             string(s.LaunchType),
		PlatformVersion:        aws.ToString(s.PlatformVersion),
		HealthCheckGracePeriod: seconds(s.HealthCheckGracePeriodSeconds),
	}
	if dc := s.DeploymentConfiguration; dc != nil {
		def.MinimumHealthyPercent = intPtr(dc.MinimumHealthyPercent)
		def.MaximumPercent = intPtr(dc.MaximumPercent)
	}
	for _, lb := range s.LoadBalancers {
		def.LoadBalancers = append(def.LoadBalancers, service.LoadBalancer{
			TargetGroupARN:   aws.ToString(lb.TargetGroupArn),
			LoadBalancerName: aws.ToString(lb.LoadBalancerName),
			ContainerName:    aws.ToString(lb.ContainerName),
			ContainerPort:    int(aws.ToInt32(lb.ContainerPort)),
		})
	}
	if nc := s.NetworkConfiguration; nc != nil && nc.AwsvpcConfiguration != nil {
		def.Network = &service.NetworkConfig{
			Subnets:        nc.AwsvpcConfiguration.Subnets,
			SecurityGroups: nc.AwsvpcConfiguration.SecurityGroups,
			AssignPublicIP: nc.AwsvpcConfiguration.AssignPublicIp == types.AssignPublicIpEnabled,
		}
	}
	for _, pc := range s.PlacementConstraints {
		def.PlacementConstraints = append(def.PlacementConstraints, service.Placement{
			Type:       string(pc.Type),
			Expression: aws.ToString(pc.Expression),
		})
	}
	for _, ps := range s.PlacementStrategy {
		def.PlacementStrategy = append(def.PlacementStrategy, service.Placement{
			Type:  string(ps.Type),
			Field: aws.ToString(ps.Field),
		})
	}
	return def
}

func toTaskHealth(t types.Task, hasHealthCheck bool) service.TaskHealth {
	h := service.TaskHealth{
		TaskID:         aws.ToString(t.TaskArn),
		Revision:       aws.ToString(t.TaskDefinitionArn),
		LastStatus:     aws.ToString(t.LastStatus),
		HealthStatus:   string(t.HealthStatus),
		StopCode:       string(t.StopCode),
		StoppedReason:  aws.ToString(t.StoppedReason),
		HasHealthCheck: hasHealthCheck,
	}
	for _, c := range t.Containers {
		if c.ExitCode != nil {
			h.ExitCodes = append(h.ExitCodes, int(*c.ExitCode))
		}
	}
	return h
}

func toRevision(def *types.TaskDefinition) service.TaskDefinitionRevision {
	tmpl := service.TaskTemplate{
		Family:           aws.ToString(def.Family),
		CPU:              aws.ToString(def.Cpu),
		Memory:           aws.ToString(def.Memory),
		NetworkMode:      string(def.NetworkMode),
		ExecutionRoleARN: aws.ToString(def.ExecutionRoleArn),
		TaskRoleARN:      aws.ToString(def.TaskRoleArn),
	}
	for _, cd := range def.ContainerDefinitions {
		tmpl.Containers = append(tmpl.Containers, toContainerSpec(cd))
	}
	return service.TaskDefinitionRevision{
		Family:      tmpl.Family,
		Revision:    int(def.Revision),
		ARN:         aws.ToString(def.TaskDefinitionArn),
		ContentHash: revisionHash(tmpl),
		Template:    tmpl,
	}
}

func toContainerSpec(cd types.ContainerDefinition) service.ContainerSpec {
	c := service.ContainerSpec{
		Name:      aws.ToString(cd.Name),
		Image:     aws.ToString(cd.Image),
		CPU:       int(cd.Cpu),
		Memory:    int(aws.ToInt32(cd.Memory)),
		Essential: cd.Essential,
		Command:   cd.Command,
	}
	if len(cd.Environment) > 0 {
		c.Environment = make(map[string]string, len(cd.Environment))
		for _, kv := range cd.Environment {
			c.Environment[aws.ToString(kv.Name)] = aws.ToString(kv.Value)
		}
	}
	for _, pm := range cd.PortMappings {
		c.PortMappings = append(c.PortMappings, service.PortMapping{
			ContainerPort: int(aws.ToInt32(pm.ContainerPort)),
			HostPort:      int(aws.ToInt32(pm.HostPort)),
			Protocol:      string(pm.Protocol),
		})
	}
	if hc := cd.HealthCheck; hc != nil {
		c.HealthCheck = &service.HealthCheck{
			Command:     hc.Command,
			Interval:    seconds(hc.Interval),
			Timeout:     seconds(hc.Timeout),
			Retries:     int(aws.ToInt32(hc.Retries)),
			StartPeriod: seconds(hc.StartPeriod),
		}
	}
	return c
}

func toRegisterInput(tmpl service.TaskTemplate) *awsecs.RegisterTaskDefinitionInput {
	in := &awsecs.RegisterTaskDefinitionInput{
		Family:           aws.String(tmpl.Family),
		Cpu:              optional(tmpl.CPU),
		Memory:           optional(tmpl.Memory),
		NetworkMode:      types.NetworkMode(tmpl.NetworkMode),
		ExecutionRoleArn: optional(tmpl.ExecutionRoleARN),
		TaskRoleArn:      optional(tmpl.TaskRoleARN),
	}
	for _, c := range tmpl.Containers {
		in.ContainerDefinitions = append(in.ContainerDefinitions, toContainerDefinition(c))
	}
	return in
}

func toContainerDefinition(c service.ContainerSpec) types.ContainerDefinition {
	cd := types.ContainerDefinition{
		Name:      aws.String(c.Name),
		Image:     aws.String(c.Image),
		Cpu:       int32(c.CPU),
		Essential: c.Essential,
		Command:   c.Command,
	}
	if c.Memory > 0 {
		cd.Memory = aws.Int32(int32(c.Memory))
	}
	for k, v := range c.Environment {
		cd.Environment = append(cd.Environment, types.KeyValuePair{Name: aws.String(k), Value: aws.String(v)})
	}
	for _, p := range c.PortMappings {
		pm := types.PortMapping{ContainerPort: aws.Int32(int32(p.ContainerPort))}
		if p.HostPort > 0 {
			pm.HostPort = aws.Int32(int32(p.HostPort))
		}
		if p.Protocol != "" {
			pm.Protocol = types.TransportProtocol(p.Protocol)
		}
		cd.PortMappings = append(cd.PortMappings, pm)
	}
	if hc := c.HealthCheck; hc != nil {
		cd.HealthCheck = &types.HealthCheck{
			Command:     hc.Command,
			Interval:    wholeSeconds(hc.Interval),
			Timeout:     wholeSeconds(hc.Timeout),
			StartPeriod: wholeSeconds(hc.StartPeriod),
		}
		if hc.Retries > 0 {
			cd.HealthCheck.Retries = aws.Int32(int32(hc.Retries))
		}
	}
	return cd
}

func toUpdateInput(req secondary.UpdateServiceRequest) *awsecs.UpdateServiceInput {
	in := &awsecs.UpdateServiceInput{
		Cluster:        aws.String(req.ID.Cluster),
		Service:        aws.String(req.ID.Service),
		TaskDefinition: optional(req.Revision),
		DesiredCount:   aws.Int32(int32(req.DesiredCount)),
	}
	if req.Bounds != nil {
		in.DeploymentConfiguration = &types.DeploymentConfiguration{
			MinimumHealthyPercent: aws.Int32(int32(req.Bounds.MinimumHealthyPercent)),
			MaximumPercent:        aws.Int32(int32(req.Bounds.MaximumPercent)),
		}
	}
	if req.HealthCheckGracePeriod > 0 {
		in.HealthCheckGracePeriodSeconds = wholeSeconds(req.HealthCheckGracePeriod)
	}
	return in
}

func toCreateInput(req secondary.CreateServiceRequest) *awsecs.CreateServiceInput {
	def := req.Definition
	in := &awsecs.CreateServiceInput{
		Cluster:                       aws.String(req.ID.Cluster),
		ServiceName:                   aws.String(req.ID.Service),
		TaskDefinition:                optional(req.Revision),
		DesiredCount:                  aws.Int32(int32(req.DesiredCount)),
		Role:                          optional(req.Role),
		ClientToken:                   optional(req.ClientToken),
		LaunchType:                    types.LaunchType(def.LaunchType),
		PlatformVersion:               optional(def.PlatformVersion),
		HealthCheckGracePeriodSeconds: wholeSeconds(def.HealthCheckGracePeriod),
	}
	if def.MinimumHealthyPercent != nil || def.MaximumPercent != nil {
		in.DeploymentConfiguration = &types.DeploymentConfiguration{
			MinimumHealthyPercent: int32Ptr(def.MinimumHealthyPercent),
			MaximumPercent:        int32Ptr(def.MaximumPercent),
		}
	}
	for _, lb := range def.LoadBalancers {
		in.LoadBalancers = append(in.LoadBalancers, types.LoadBalancer{
			TargetGroupArn:   optional(lb.TargetGroupARN),
			LoadBalancerName: optional(lb.LoadBalancerName),
			ContainerName:    optional(lb.ContainerName),
			ContainerPort:    aws.Int32(int32(lb.ContainerPort)),
		})
	}
	if n := def.Network; n != nil {
		assign := types.AssignPublicIpDisabled
		if n.AssignPublicIP {
			assign = types.AssignPublicIpEnabled
		}
		in.NetworkConfiguration = &types.NetworkConfiguration{
			AwsvpcConfiguration: &types.AwsVpcConfiguration{
				Subnets:        n.Subnets,
				SecurityGroups: n.SecurityGroups,
				AssignPublicIp: assign,
			},
		}
	}
	for _, pc := range def.PlacementConstraints {
		in.PlacementConstraints = append(in.PlacementConstraints, types.PlacementConstraint{
			Type:       types.PlacementConstraintType(pc.Type),
			Expression: optional(pc.Expression),
		})
	}
	for _, ps := range def.PlacementStrategy {
		in.PlacementStrategy = append(in.PlacementStrategy, types.PlacementStrategy{
			Type:  types.PlacementStrategyType(ps.Type),
			Field: optional(ps.Field),
		})
	}
	return in
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}

func seconds(v *int32) time.Duration {
	return time.Duration(aws.ToInt32(v)) * time.Second
}

func wholeSeconds(d time.Duration) *int32 {
	if d <= 0 {
		return nil
	}
	return aws.Int32(int32(d / time.Second))
}

func intPtr(v *int32) *int {
	if v == nil {
		return nil
	}
	n := int(*v)
	return &n
}

func int32Ptr(v *int) *int32 {
	if v == nil {
		return nil
	}
	return aws.Int32(int32(*v))
}
