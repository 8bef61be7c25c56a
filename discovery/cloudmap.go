package discovery

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/servicediscovery"
	sdtypes "github.com/aws/aws-sdk-go-v2/service/servicediscovery/types"

	"github.com/shiftsmith/shiftsmith/models"
)

// CloudMapClient implements Client against AWS Cloud Map. Lookups use the
// DiscoverInstances data-plane API; registrations resolve the service ID
// through the namespace and cache it.
type CloudMapClient struct {
	sd        *servicediscovery.Client
	namespace string

	mu          sync.Mutex
	namespaceID string
	serviceIDs  map[string]string
}

// NewCloudMapClient creates a client scoped to one Cloud Map namespace.
func NewCloudMapClient(sd *servicediscovery.Client, namespace string) *CloudMapClient {
	return &CloudMapClient{
		sd:         sd,
		namespace:  namespace,
		serviceIDs: make(map[string]string),
	}
}

// Lookup discovers one healthy instance of the named service.
func (c *CloudMapClient) Lookup(ctx context.Context, name string) (models.ServiceEndpoint, bool, error) {
	out, err := c.sd.DiscoverInstances(ctx, &servicediscovery.DiscoverInstancesInput{
		NamespaceName: aws.String(c.namespace),
		ServiceName:   aws.String(name),
		MaxResults:    aws.Int32(1),
		HealthStatus:  sdtypes.HealthStatusFilterHealthy,
	})
	if err != nil {
		return models.ServiceEndpoint{}, false, fmt.Errorf("failed to discover %s: %w", name, err)
	}
	if len(out.Instances) == 0 {
		return models.ServiceEndpoint{}, false, nil
	}

	attrs := out.Instances[0].Attributes
	port, _ := strconv.Atoi(attrs["AWS_INSTANCE_PORT"])
	protocol := attrs["protocol"]
	if protocol == "" {
		protocol = "http"
	}

	host := attrs["AWS_INSTANCE_CNAME"]
	if host == "" {
		host = attrs["AWS_INSTANCE_IPV4"]
	}

	url := attrs["url"]
	if url == "" && host != "" {
		url = fmt.Sprintf("%s://%s:%d", protocol, host, port)
	}

	return models.ServiceEndpoint{
		Name:            name,
		URL:             url,
		Port:            port,
		Protocol:        protocol,
		HealthCheckPath: attrs["health_check_path"],
		Version:         attrs["version"],
	}, true, nil
}

// Register registers the endpoint as an instance of the named service.
func (c *CloudMapClient) Register(ctx context.Context, name string, endpoint models.ServiceEndpoint) error {
	serviceID, err := c.serviceID(ctx, name)
	if err != nil {
		return err
	}

	attrs := map[string]string{
		"AWS_INSTANCE_PORT": strconv.Itoa(endpoint.Port),
		"url":               endpoint.URL,
		"protocol":          endpoint.Protocol,
	}
	if endpoint.HealthCheckPath != "" {
		attrs["health_check_path"] = endpoint.HealthCheckPath
	}
	if endpoint.Version != "" {
		attrs["version"] = endpoint.Version
	}

	_, err = c.sd.RegisterInstance(ctx, &servicediscovery.RegisterInstanceInput{
		ServiceId:  aws.String(serviceID),
		InstanceId: aws.String(endpoint.Name),
		Attributes: attrs,
	})
	if err != nil {
		return fmt.Errorf("failed to register %s: %w", name, err)
	}

	return nil
}

// serviceID resolves and caches the Cloud Map service ID for a name.
func (c *CloudMapClient) serviceID(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id, ok := c.serviceIDs[name]; ok {
		return id, nil
	}

	nsID, err := c.lookupNamespaceIDLocked(ctx)
	if err != nil {
		return "", err
	}

	out, err := c.sd.ListServices(ctx, &servicediscovery.ListServicesInput{
		Filters: []sdtypes.ServiceFilter{
			{
				Name:      sdtypes.ServiceFilterNameNamespaceId,
				Values:    []string{nsID},
				Condition: sdtypes.FilterConditionEq,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to list services: %w", err)
	}

	for _, svc := range out.Services {
		if aws.ToString(svc.Name) == name {
			id := aws.ToString(svc.Id)
			c.serviceIDs[name] = id
			return id, nil
		}
	}

	return "", fmt.Errorf("service %s not found in namespace %s", name, c.namespace)
}

func (c *CloudMapClient) lookupNamespaceIDLocked(ctx context.Context) (string, error) {
	if c.namespaceID != "" {
		return c.namespaceID, nil
	}

	out, err := c.sd.ListNamespaces(ctx, &servicediscovery.ListNamespacesInput{})
	if err != nil {
		return "", fmt.Errorf("failed to list namespaces: %w", err)
	}

	for _, ns := range out.Namespaces {
		if aws.ToString(ns.Name) == c.namespace {
			c.namespaceID = aws.ToString(ns.Id)
			return c.namespaceID, nil
		}
	}

	return "", fmt.Errorf("namespace %s not found", c.namespace)
}
