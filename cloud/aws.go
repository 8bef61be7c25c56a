package cloud

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbv2types "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"
)

// AWSConfig carries the settings needed to construct the AWS binding.
// When AccessKeyID/SecretAccessKey are empty, the default credential
// chain is used (environment, shared config, instance role).
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	ProbeTimeout    time.Duration
}

// AWSClient implements ControlClient against ELBv2 and CloudWatch.
type AWSClient struct {
	elb        *elasticloadbalancingv2.Client
	cw         *cloudwatch.Client
	httpClient *http.Client
}

// NewAWSClient builds the AWS control client.
func NewAWSClient(ctx context.Context, cfg AWSConfig) (*AWSClient, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	probeTimeout := cfg.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = 10 * time.Second
	}

	return &AWSClient{
		elb:        elasticloadbalancingv2.NewFromConfig(awsCfg),
		cw:         cloudwatch.NewFromConfig(awsCfg),
		httpClient: &http.Client{Timeout: probeTimeout},
	}, nil
}

// SetWeights rewrites the listener's default forward action with a weighted
// target group tuple per entry. A single call covers both environments, so
// the blue/green split is always applied atomically.
func (c *AWSClient) SetWeights(ctx context.Context, listenerARN string, weights map[string]int32) error {
	tuples := make([]elbv2types.TargetGroupTuple, 0, len(weights))
	for arn, weight := range weights {
		tuples = append(tuples, elbv2types.TargetGroupTuple{
			TargetGroupArn: aws.String(arn),
			Weight:         aws.Int32(weight),
		})
	}

	_, err := c.elb.ModifyListener(ctx, &elasticloadbalancingv2.ModifyListenerInput{
		ListenerArn: aws.String(listenerARN),
		DefaultActions: []elbv2types.Action{
			{
				Type: elbv2types.ActionTypeEnumForward,
				ForwardConfig: &elbv2types.ForwardActionConfig{
					TargetGroups: tuples,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to modify listener %s: %w", listenerARN, err)
	}

	return nil
}

// GetMetricSum returns the sum of the metric over the trailing window.
func (c *AWSClient) GetMetricSum(ctx context.Context, targetGroupARN string, metric Metric, window time.Duration) (float64, error) {
	return c.getMetric(ctx, targetGroupARN, metric, window, cwtypes.StatisticSum)
}

// GetMetricAverage returns the average of the metric over the trailing window.
func (c *AWSClient) GetMetricAverage(ctx context.Context, targetGroupARN string, metric Metric, window time.Duration) (float64, error) {
	return c.getMetric(ctx, targetGroupARN, metric, window, cwtypes.StatisticAverage)
}

func (c *AWSClient) getMetric(ctx context.Context, targetGroupARN string, metric Metric, window time.Duration, stat cwtypes.Statistic) (float64, error) {
	end := time.Now()
	start := end.Add(-window)

	out, err := c.cw.GetMetricStatistics(ctx, &cloudwatch.GetMetricStatisticsInput{
		Namespace:  aws.String("AWS/ApplicationELB"),
		MetricName: aws.String(string(metric)),
		Dimensions: []cwtypes.Dimension{
			{
				Name:  aws.String("TargetGroup"),
				Value: aws.String(targetGroupDimension(targetGroupARN)),
			},
		},
		StartTime:  aws.Time(start),
		EndTime:    aws.Time(end),
		Period:     aws.Int32(int32(window.Seconds())),
		Statistics: []cwtypes.Statistic{stat},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get %s for %s: %w", metric, targetGroupARN, err)
	}

	var total float64
	for _, dp := range out.Datapoints {
		switch stat {
		case cwtypes.StatisticAverage:
			if dp.Average != nil {
				total += *dp.Average
			}
		default:
			if dp.Sum != nil {
				total += *dp.Sum
			}
		}
	}
	if stat == cwtypes.StatisticAverage && len(out.Datapoints) > 1 {
		total /= float64(len(out.Datapoints))
	}

	return total, nil
}

// Probe performs one GET against a health URL.
func (c *AWSClient) Probe(ctx context.Context, healthURL string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return 0, fmt.Errorf("invalid health URL: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("probe failed: %w", err)
	}
	defer resp.Body.Close()

	return resp.StatusCode, nil
}

// targetGroupDimension extracts the CloudWatch dimension value
// ("targetgroup/<name>/<id>") from a full target group ARN.
func targetGroupDimension(arn string) string {
	idx := strings.Index(arn, "targetgroup/")
	if idx < 0 {
		return arn
	}
	return arn[idx:]
}
