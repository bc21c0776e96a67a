package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"depthflow/config"
	"depthflow/logger"
)

// CloudWatchPublisher periodically pushes counter deltas to CloudWatch,
// dimensioned by venue and symbol.
type CloudWatchPublisher struct {
	client    *cloudwatch.Client
	namespace string
	interval  time.Duration
	collector *Collector
	venue     string
	symbol    string
	log       *logger.Entry

	prev map[string]int64

	done chan struct{}
	wg   sync.WaitGroup
}

// NewCloudWatchPublisher builds the publisher. A nil publisher (with error)
// is returned when the AWS configuration cannot be loaded; metrics then stay
// local.
func NewCloudWatchPublisher(cfg *config.Config, collector *Collector, log *logger.Log) (*CloudWatchPublisher, error) {
	ctx := context.Background()
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Metrics.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Metrics.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	interval := cfg.Metrics.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	return &CloudWatchPublisher{
		client:    cloudwatch.NewFromConfig(awsCfg),
		namespace: cfg.Metrics.Namespace,
		interval:  interval,
		collector: collector,
		venue:     cfg.Feed.Venue,
		symbol:    cfg.Symbol(),
		log:       log.WithComponent("cloudwatch"),
		prev:      map[string]int64{},
		done:      make(chan struct{}),
	}, nil
}

// Start launches the publish loop.
func (p *CloudWatchPublisher) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.done:
				return
			case <-ticker.C:
				p.publish()
			}
		}
	}()
}

// Stop terminates the publish loop after a final flush.
func (p *CloudWatchPublisher) Stop() {
	close(p.done)
	p.wg.Wait()
	p.publish()
}

func (p *CloudWatchPublisher) publish() {
	values := p.collector.Values()

	dims := []cwtypes.Dimension{
		{Name: aws.String("venue"), Value: aws.String(p.venue)},
		{Name: aws.String("symbol"), Value: aws.String(p.symbol)},
	}

	data := make([]cwtypes.MetricDatum, 0, len(values))
	for name, v := range values {
		delta := v - p.prev[name]
		p.prev[name] = v
		if delta == 0 {
			continue
		}
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(name),
			Dimensions: dims,
			Unit:       cwtypes.StandardUnitCount,
			Value:      aws.Float64(float64(delta)),
		})
	}
	if len(data) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(p.namespace),
		MetricData: data,
	})
	if err != nil {
		p.log.WithError(err).Warn("failed to publish metrics")
	}
}
