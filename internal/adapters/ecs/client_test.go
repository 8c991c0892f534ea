package ecs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsecs "github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/aws/smithy-go"
	"github.com/google/go-cmp/cmp"

	"github.com/example/ecs-manage/internal/core/failure"
	"github.com/example/ecs-manage/internal/core/rollout"
	"github.com/example/ecs-manage/internal/core/service"
	"github.com/example/ecs-manage/internal/core/taskdef"
	"github.com/example/ecs-manage/internal/ports/secondary"
)

const webARN = "arn:aws:ecs:eu-west-1:123456789012:task-definition/web:8"

// fakeAPI implements API for testing.
type fakeAPI struct {
	mu sync.Mutex

	services    map[string]types.Service
	running     []string
	stopped     []string
	tasks       map[string]types.Task
	definitions map[string]*types.TaskDefinition
	listed      []string

	err error

	describeTaskBatches [][]string
	definitionCalls     int
	registered          []*awsecs.RegisterTaskDefinitionInput
	updates             []*awsecs.UpdateServiceInput
	created             []*awsecs.CreateServiceInput
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		services:    make(map[string]types.Service),
		tasks:       make(map[string]types.Task),
		definitions: make(map[string]*types.TaskDefinition),
	}
}

func (f *fakeAPI) DescribeServices(ctx context.Context, in *awsecs.DescribeServicesInput, _ ...func(*awsecs.Options)) (*awsecs.DescribeServicesOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := &awsecs.DescribeServicesOutput{}
	for _, name := range in.Services {
		if s, ok := f.services[name]; ok {
			out.Services = append(out.Services, s)
		} else {
			out.Failures = append(out.Failures, types.Failure{Arn: aws.String(name), Reason: aws.String("MISSING")})
		}
	}
	return out, nil
}

func (f *fakeAPI) ListTasks(ctx context.Context, in *awsecs.ListTasksInput, _ ...func(*awsecs.Options)) (*awsecs.ListTasksOutput, error) {
	arns := f.running
	if in.DesiredStatus == types.DesiredStatusStopped {
		arns = f.stopped
	}
	// Two tasks per page to exercise pagination.
	start := 0
	if in.NextToken != nil {
		fmt.Sscanf(*in.NextToken, "%d", &start)
	}
	end := min(start+2, len(arns))
	out := &awsecs.ListTasksOutput{TaskArns: arns[start:end]}
	if end < len(arns) {
		out.NextToken = aws.String(fmt.Sprintf("%d", end))
	}
	return out, nil
}

func (f *fakeAPI) DescribeTasks(ctx context.Context, in *awsecs.DescribeTasksInput, _ ...func(*awsecs.Options)) (*awsecs.DescribeTasksOutput, error) {
	f.mu.Lock()
	f.describeTaskBatches = append(f.describeTaskBatches, in.Tasks)
	f.mu.Unlock()
	out := &awsecs.DescribeTasksOutput{}
	for _, arn := range in.Tasks {
		if t, ok := f.tasks[arn]; ok {
			out.Tasks = append(out.Tasks, t)
		}
	}
	return out, nil
}

func (f *fakeAPI) ListServices(ctx context.Context, in *awsecs.ListServicesInput, _ ...func(*awsecs.Options)) (*awsecs.ListServicesOutput, error) {
	out := &awsecs.ListServicesOutput{}
	for name := range f.services {
		out.ServiceArns = append(out.ServiceArns, "arn:aws:ecs:eu-west-1:123456789012:service/"+aws.ToString(in.Cluster)+"/"+name)
	}
	return out, nil
}

func (f *fakeAPI) ListTaskDefinitions(ctx context.Context, in *awsecs.ListTaskDefinitionsInput, _ ...func(*awsecs.Options)) (*awsecs.ListTaskDefinitionsOutput, error) {
	return &awsecs.ListTaskDefinitionsOutput{TaskDefinitionArns: f.listed}, nil
}

func (f *fakeAPI) DescribeTaskDefinition(ctx context.Context, in *awsecs.DescribeTaskDefinitionInput, _ ...func(*awsecs.Options)) (*awsecs.DescribeTaskDefinitionOutput, error) {
	f.mu.Lock()
	f.definitionCalls++
	f.mu.Unlock()
	def, ok := f.definitions[aws.ToString(in.TaskDefinition)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "ClientException", Message: "Unable to describe task definition.", Fault: smithy.FaultClient}
	}
	return &awsecs.DescribeTaskDefinitionOutput{TaskDefinition: def}, nil
}

func (f *fakeAPI) RegisterTaskDefinition(ctx context.Context, in *awsecs.RegisterTaskDefinitionInput, _ ...func(*awsecs.Options)) (*awsecs.RegisterTaskDefinitionOutput, error) {
	f.registered = append(f.registered, in)
	return &awsecs.RegisterTaskDefinitionOutput{TaskDefinition: &types.TaskDefinition{
		Family:               in.Family,
		Revision:             9,
		TaskDefinitionArn:    aws.String("arn:aws:ecs:eu-west-1:123456789012:task-definition/" + aws.ToString(in.Family) + ":9"),
		ContainerDefinitions: in.ContainerDefinitions,
		Cpu:                  in.Cpu,
		Memory:               in.Memory,
		NetworkMode:          in.NetworkMode,
	}}, nil
}

func (f *fakeAPI) UpdateService(ctx context.Context, in *awsecs.UpdateServiceInput, _ ...func(*awsecs.Options)) (*awsecs.UpdateServiceOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.updates = append(f.updates, in)
	return &awsecs.UpdateServiceOutput{}, nil
}

func (f *fakeAPI) CreateService(ctx context.Context, in *awsecs.CreateServiceInput, _ ...func(*awsecs.Options)) (*awsecs.CreateServiceOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = append(f.created, in)
	return &awsecs.CreateServiceOutput{Service: &types.Service{ServiceName: in.ServiceName}}, nil
}

func newTestClient(api *fakeAPI) *Client {
	return NewWithAPI(api, 1000)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want failure.Kind
	}{
		{name: "nil", err: nil, want: ""},
		{name: "throttled", err: &smithy.GenericAPIError{Code: "ThrottlingException", Message: "Rate exceeded", Fault: smithy.FaultClient}, want: failure.KindPlatformUnavailable},
		{name: "server exception", err: &smithy.GenericAPIError{Code: "ServerException", Fault: smithy.FaultServer}, want: failure.KindPlatformUnavailable},
		{name: "unknown server fault", err: &smithy.GenericAPIError{Code: "Whatever", Fault: smithy.FaultServer}, want: failure.KindPlatformUnavailable},
		{name: "client exception", err: &smithy.GenericAPIError{Code: "ClientException", Fault: smithy.FaultClient}, want: failure.KindPlatformRejected},
		{name: "invalid parameter", err: &smithy.GenericAPIError{Code: "InvalidParameterException", Fault: smithy.FaultClient}, want: failure.KindPlatformRejected},
		{name: "deadline", err: fmt.Errorf("operation error ECS: %w", context.DeadlineExceeded), want: failure.KindTimeout},
		{name: "transport", err: errors.New("dial tcp: connection reset by peer"), want: failure.KindPlatformUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := failure.KindOf(classify("op", tt.err)); got != tt.want {
				t.Errorf("classify() kind = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClient_DescribeService(t *testing.T) {
	api := newFakeAPI()
	api.services["web"] = types.Service{
		ServiceName:    aws.String("web"),
		Status:         aws.String("ACTIVE"),
		TaskDefinition: aws.String(webARN),
		DesiredCount:   3,
		RunningCount:   2,
		PendingCount:   1,
		Deployments: []types.Deployment{{
			Id:             aws.String("ecs-svc/1"),
			Status:         aws.String("PRIMARY"),
			TaskDefinition: aws.String(webARN),
			DesiredCount:   3,
			RunningCount:   2,
			PendingCount:   1,
			RolloutState:   types.DeploymentRolloutStateInProgress,
		}},
		Events: []types.ServiceEvent{{Message: aws.String("(service web) has reached a steady state.")}},
	}
	api.running = []string{"t1", "t2", "t3"}
	api.stopped = []string{"t0"}

	state, err := newTestClient(api).DescribeService(context.Background(), service.ID{Cluster: "prod", Service: "web"})
	if err != nil {
		t.Fatalf("DescribeService failed: %v", err)
	}

	want := &service.ServiceState{
		ID:             service.ID{Cluster: "prod", Service: "web"},
		Status:         "ACTIVE",
		ActiveRevision: webARN,
		DesiredCount:   3,
		RunningCount:   2,
		PendingCount:   1,
		TaskIDs:        []string{"t1", "t2", "t3", "t0"},
		Deployments: []service.DeploymentInfo{{
			ID: "ecs-svc/1", Status: "PRIMARY", Revision: webARN,
			DesiredCount: 3, RunningCount: 2, PendingCount: 1, RolloutState: "IN_PROGRESS",
		}},
		Events: []string{"(service web) has reached a steady state."},
	}
	if diff := cmp.Diff(want, state); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%s", diff)
	}
}

func TestClient_DescribeService_Missing(t *testing.T) {
	_, err := newTestClient(newFakeAPI()).DescribeService(context.Background(), service.ID{Cluster: "prod", Service: "ghost"})
	if !failure.Is(err, failure.KindPlatformRejected) {
		t.Errorf("expected PlatformRejected, got %v", err)
	}
}

func TestClient_DescribeTasks_BatchesAndCachesHealthChecks(t *testing.T) {
	api := newFakeAPI()
	api.definitions[webARN] = &types.TaskDefinition{
		Family:            aws.String("web"),
		Revision:          8,
		TaskDefinitionArn: aws.String(webARN),
		ContainerDefinitions: []types.ContainerDefinition{{
			Name:        aws.String("app"),
			Image:       aws.String("nginx:1.27"),
			HealthCheck: &types.HealthCheck{Command: []string{"CMD", "true"}},
		}},
	}

	var ids []string
	for i := range 250 {
		id := fmt.Sprintf("task-%03d", i)
		ids = append(ids, id)
		api.tasks[id] = types.Task{
			TaskArn:           aws.String(id),
			TaskDefinitionArn: aws.String(webARN),
			LastStatus:        aws.String("RUNNING"),
			HealthStatus:      types.HealthStatusHealthy,
		}
	}
	api.tasks["task-000"] = types.Task{
		TaskArn:           aws.String("task-000"),
		TaskDefinitionArn: aws.String(webARN),
		LastStatus:        aws.String("STOPPED"),
		StopCode:          types.TaskStopCodeEssentialContainerExited,
		StoppedReason:     aws.String("Essential container in task exited"),
		Containers:        []types.Container{{ExitCode: aws.Int32(137)}},
	}

	health, err := newTestClient(api).DescribeTasks(context.Background(), "prod", ids)
	if err != nil {
		t.Fatalf("DescribeTasks failed: %v", err)
	}

	var sizes []int
	for _, b := range api.describeTaskBatches {
		sizes = append(sizes, len(b))
	}
	if diff := cmp.Diff([]int{100, 100, 50}, sizes); diff != "" {
		t.Errorf("batch sizes mismatch (-want +got):\n%s", diff)
	}
	if api.definitionCalls != 1 {
		t.Errorf("expected one task definition lookup, got %d", api.definitionCalls)
	}
	if len(health) != 250 {
		t.Fatalf("expected 250 tasks, got %d", len(health))
	}

	stopped := health[0]
	want := service.TaskHealth{
		TaskID:         "task-000",
		Revision:       webARN,
		LastStatus:     "STOPPED",
		StopCode:       "EssentialContainerExited",
		StoppedReason:  "Essential container in task exited",
		ExitCodes:      []int{137},
		HasHealthCheck: true,
	}
	if diff := cmp.Diff(want, stopped); diff != "" {
		t.Errorf("task mismatch (-want +got):\n%s", diff)
	}
	if !health[1].Healthy() {
		t.Errorf("expected running task with passing check to be healthy")
	}
}

func TestClient_ListServices(t *testing.T) {
	api := newFakeAPI()
	api.services["web"] = types.Service{}

	names, err := newTestClient(api).ListServices(context.Background(), "prod")
	if err != nil {
		t.Fatalf("ListServices failed: %v", err)
	}
	if diff := cmp.Diff([]string{"web"}, names); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
}

func TestNameFromARN(t *testing.T) {
	for _, arn := range []string{
		"arn:aws:ecs:eu-west-1:123456789012:service/prod/web",
		"arn:aws:ecs:eu-west-1:123456789012:service/web",
		"web",
	} {
		if got := nameFromARN(arn); got != "web" {
			t.Errorf("nameFromARN(%q) = %q, want web", arn, got)
		}
	}
}

func TestClient_RegisteredRevisionHashesLikeSpec(t *testing.T) {
	api := newFakeAPI()
	tmpl := service.TaskTemplate{
		Family:      "web",
		CPU:         "256",
		Memory:      "512",
		NetworkMode: "awsvpc",
		Containers: []service.ContainerSpec{{
			Name:         "app",
			Image:        "nginx:1.27",
			Environment:  map[string]string{"MODE": "prod"},
			PortMappings: []service.PortMapping{{ContainerPort: 8080}},
			HealthCheck:  &service.HealthCheck{Command: []string{"CMD-SHELL", "curl -f localhost:8080/"}},
		}},
	}

	rev, err := newTestClient(api).RegisterTaskDefinition(context.Background(), tmpl)
	if err != nil {
		t.Fatalf("RegisterTaskDefinition failed: %v", err)
	}
	if rev.Revision != 9 || rev.Family != "web" {
		t.Errorf("revision = %s:%d, want web:9", rev.Family, rev.Revision)
	}
	if rev.ContentHash != taskdef.Hash(tmpl) {
		t.Errorf("platform revision hash %s differs from spec hash %s", rev.ContentHash, taskdef.Hash(tmpl))
	}
}

func TestClient_ListTaskDefinitions(t *testing.T) {
	api := newFakeAPI()
	for rev := 5; rev <= 8; rev++ {
		arn := fmt.Sprintf("arn:aws:ecs:eu-west-1:123456789012:task-definition/web:%d", rev)
		api.listed = append([]string{arn}, api.listed...)
		api.definitions[arn] = &types.TaskDefinition{
			Family:            aws.String("web"),
			Revision:          int32(rev),
			TaskDefinitionArn: aws.String(arn),
			ContainerDefinitions: []types.ContainerDefinition{{
				Name:  aws.String("app"),
				Image: aws.String(fmt.Sprintf("nginx:1.%d", 20+rev)),
			}},
		}
	}

	revisions, err := newTestClient(api).ListTaskDefinitions(context.Background(), "web", 3)
	if err != nil {
		t.Fatalf("ListTaskDefinitions failed: %v", err)
	}

	var got []int
	for _, r := range revisions {
		got = append(got, r.Revision)
		if r.ContentHash == "" {
			t.Errorf("revision %d has no content hash", r.Revision)
		}
	}
	if diff := cmp.Diff([]int{8, 7, 6}, got); diff != "" {
		t.Errorf("revisions mismatch (-want +got):\n%s", diff)
	}
}

func TestClient_UpdateService(t *testing.T) {
	api := newFakeAPI()
	client := newTestClient(api)

	err := client.UpdateService(context.Background(), secondary.UpdateServiceRequest{
		ID:                     service.ID{Cluster: "prod", Service: "web"},
		Revision:               webARN,
		DesiredCount:           4,
		Bounds:                 &rollout.PlatformBounds{MinimumHealthyPercent: 75, MaximumPercent: 150},
		HealthCheckGracePeriod: 90 * time.Second,
	})
	if err != nil {
		t.Fatalf("UpdateService failed: %v", err)
	}
	// Scaling only: revision left untouched.
	err = client.UpdateService(context.Background(), secondary.UpdateServiceRequest{
		ID:           service.ID{Cluster: "prod", Service: "web"},
		DesiredCount: 0,
	})
	if err != nil {
		t.Fatalf("UpdateService failed: %v", err)
	}

	if len(api.updates) != 2 {
		t.Fatalf("expected 2 updates, got %d", len(api.updates))
	}
	deploy := api.updates[0]
	if aws.ToString(deploy.TaskDefinition) != webARN || aws.ToInt32(deploy.DesiredCount) != 4 {
		t.Errorf("unexpected deploy update: %s x%d", aws.ToString(deploy.TaskDefinition), aws.ToInt32(deploy.DesiredCount))
	}
	if cfg := deploy.DeploymentConfiguration; cfg == nil || aws.ToInt32(cfg.MinimumHealthyPercent) != 75 || aws.ToInt32(cfg.MaximumPercent) != 150 {
		t.Errorf("unexpected deployment configuration: %+v", cfg)
	}
	if aws.ToInt32(deploy.HealthCheckGracePeriodSeconds) != 90 {
		t.Errorf("grace period = %d, want 90", aws.ToInt32(deploy.HealthCheckGracePeriodSeconds))
	}

	scale := api.updates[1]
	if scale.TaskDefinition != nil {
		t.Errorf("expected no task definition on a scale update, got %s", aws.ToString(scale.TaskDefinition))
	}
	if scale.DesiredCount == nil || *scale.DesiredCount != 0 {
		t.Errorf("expected explicit zero desired count")
	}
}

func TestClient_UpdateService_Throttled(t *testing.T) {
	api := newFakeAPI()
	api.err = &smithy.GenericAPIError{Code: "ThrottlingException", Message: "Rate exceeded", Fault: smithy.FaultClient}

	err := newTestClient(api).UpdateService(context.Background(), secondary.UpdateServiceRequest{
		ID: service.ID{Cluster: "prod", Service: "web"},
	})
	if !failure.Retryable(err) {
		t.Errorf("expected retryable error, got %v", err)
	}
}

func TestClient_DescribeService_Definition(t *testing.T) {
	const tg = "arn:aws:elasticloadbalancing:eu-west-1:123456789012:targetgroup/web/6d0ecf831eec9f09"
	api := newFakeAPI()
	api.services["web"] = types.Service{
		ServiceName:                   aws.String("web"),
		TaskDefinition:                aws.String(webARN),
		LaunchType:                    types.LaunchTypeFargate,
		PlatformVersion:               aws.String("1.4.0"),
		HealthCheckGracePeriodSeconds: aws.Int32(60),
		DeploymentConfiguration: &types.DeploymentConfiguration{
			MinimumHealthyPercent: aws.Int32(100),
			MaximumPercent:        aws.Int32(200),
		},
		LoadBalancers: []types.LoadBalancer{{
			TargetGroupArn: aws.String(tg),
			ContainerName:  aws.String("app"),
			ContainerPort:  aws.Int32(8080),
		}},
		NetworkConfiguration: &types.NetworkConfiguration{AwsvpcConfiguration: &types.AwsVpcConfiguration{
			Subnets:        []string{"subnet-a", "subnet-b"},
			SecurityGroups: []string{"sg-web"},
			AssignPublicIp: types.AssignPublicIpDisabled,
		}},
		PlacementStrategy: []types.PlacementStrategy{{Type: types.PlacementStrategyTypeSpread, Field: aws.String("attribute:ecs.availability-zone")}},
	}

	state, err := newTestClient(api).DescribeService(context.Background(), service.ID{Cluster: "prod", Service: "web"})
	if err != nil {
		t.Fatalf("DescribeService failed: %v", err)
	}

	hundred, twoHundred := 100, 200
	want := service.Definition{
		LaunchType:             "FARGATE",
		PlatformVersion:        "1.4.0",
		HealthCheckGracePeriod: time.Minute,
		MinimumHealthyPercent:  &hundred,
		MaximumPercent:         &twoHundred,
		LoadBalancers:          []service.LoadBalancer{{TargetGroupARN: tg, ContainerName: "app", ContainerPort: 8080}},
		Network:                &service.NetworkConfig{Subnets: []string{"subnet-a", "subnet-b"}, SecurityGroups: []string{"sg-web"}},
		PlacementStrategy:      []service.Placement{{Type: "spread", Field: "attribute:ecs.availability-zone"}},
	}
	if diff := cmp.Diff(want, state.Definition); diff != "" {
		t.Errorf("definition mismatch (-want +got):\n%s", diff)
	}
}

func TestClient_CreateService(t *testing.T) {
	api := newFakeAPI()
	fifty := 50
	err := newTestClient(api).CreateService(context.Background(), secondary.CreateServiceRequest{
		ID:           service.ID{Cluster: "dr", Service: "web"},
		Revision:     webARN,
		DesiredCount: 3,
		Role:         "dr-ECSServiceRole",
		ClientToken:  "5f0c8c1e-7d7f-4a57-9e4b-0d7c6b1f2a3e",
		Definition: service.Definition{
			LaunchType:            "EC2",
			MinimumHealthyPercent: &fifty,
			LoadBalancers:         []service.LoadBalancer{{LoadBalancerName: "web-elb", ContainerName: "app", ContainerPort: 8080}},
			PlacementConstraints:  []service.Placement{{Type: "memberOf", Expression: "attribute:ecs.instance-type =~ t3.*"}},
		},
	})
	if err != nil {
		t.Fatalf("CreateService failed: %v", err)
	}

	if len(api.created) != 1 {
		t.Fatalf("expected 1 creation, got %d", len(api.created))
	}
	in := api.created[0]
	if aws.ToString(in.Cluster) != "dr" || aws.ToString(in.ServiceName) != "web" || aws.ToString(in.TaskDefinition) != webARN {
		t.Errorf("unexpected target: %s/%s at %s", aws.ToString(in.Cluster), aws.ToString(in.ServiceName), aws.ToString(in.TaskDefinition))
	}
	if aws.ToInt32(in.DesiredCount) != 3 || aws.ToString(in.Role) != "dr-ECSServiceRole" || in.LaunchType != types.LaunchTypeEc2 {
		t.Errorf("unexpected creation: count %d role %q launch type %q", aws.ToInt32(in.DesiredCount), aws.ToString(in.Role), in.LaunchType)
	}
	if aws.ToString(in.ClientToken) != "5f0c8c1e-7d7f-4a57-9e4b-0d7c6b1f2a3e" {
		t.Errorf("client token = %q, want it passed through", aws.ToString(in.ClientToken))
	}
	if dc := in.DeploymentConfiguration; dc == nil || aws.ToInt32(dc.MinimumHealthyPercent) != 50 || dc.MaximumPercent != nil {
		t.Errorf("unexpected deployment configuration: %+v", dc)
	}
	if len(in.LoadBalancers) != 1 || aws.ToString(in.LoadBalancers[0].LoadBalancerName) != "web-elb" || in.LoadBalancers[0].TargetGroupArn != nil {
		t.Errorf("unexpected load balancers: %+v", in.LoadBalancers)
	}
	if in.NetworkConfiguration != nil || in.PlatformVersion != nil || in.HealthCheckGracePeriodSeconds != nil {
		t.Error("expected unset optional fields to stay unset")
	}
	if len(in.PlacementConstraints) != 1 || in.PlacementConstraints[0].Type != types.PlacementConstraintTypeMemberOf {
		t.Errorf("unexpected placement constraints: %+v", in.PlacementConstraints)
	}
}

func TestClient_CreateService_Rejected(t *testing.T) {
	api := newFakeAPI()
	api.err = &smithy.GenericAPIError{Code: "InvalidParameterException", Message: "Creation of service was not idempotent.", Fault: smithy.FaultClient}

	err := newTestClient(api).CreateService(context.Background(), secondary.CreateServiceRequest{
		ID: service.ID{Cluster: "dr", Service: "web"},
	})
	if !failure.Is(err, failure.KindPlatformRejected) {
		t.Errorf("expected PlatformRejected, got %v", err)
	}
}
