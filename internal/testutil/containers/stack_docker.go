//go:build docker

// Package containers starts the backing services integration tests run
// against.
package containers

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	defaultPostgresImage = "postgres:16-alpine"
	defaultMySQLImage    = "mysql:8.4"
	defaultNATSImage     = "nats:2.10-alpine"
	defaultRabbitMQImage = "rabbitmq:3.13-management-alpine"
	defaultKafkaImage    = "redpandadata/redpanda:v23.3.17"

	dbUser     = "ticketscan"
	dbPassword = "ticketscan"
	dbName     = "ticketscan"
)

// Service is one running container and the address clients should use.
type Service struct {
	URL string
	c   testcontainers.Container
}

func (s *Service) Terminate(ctx context.Context) error {
	if s == nil || s.c == nil {
		return nil
	}
	return s.c.Terminate(ctx)
}

type serviceSpec struct {
	req     testcontainers.ContainerRequest
	port    nat.Port
	timeout time.Duration
	url     func(host, port string) string
}

func start(ctx context.Context, spec serviceSpec) (*Service, error) {
	spec.req.ExposedPorts = append(spec.req.ExposedPorts, string(spec.port))
	spec.req.WaitingFor = wait.ForListeningPort(spec.port).WithStartupTimeout(spec.timeout)

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: spec.req,
		Started:          true,
	})
	if err != nil {
		return nil, err
	}
	host, err := c.Host(ctx)
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, err
	}
	port, err := c.MappedPort(ctx, spec.port)
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, err
	}
	return &Service{URL: spec.url(host, port.Port()), c: c}, nil
}

// StartPostgres returns a postgres DSN.
func StartPostgres(ctx context.Context) (*Service, error) {
	return start(ctx, serviceSpec{
		req: testcontainers.ContainerRequest{
			Image: defaultPostgresImage,
			Env: map[string]string{
				"POSTGRES_USER":     dbUser,
				"POSTGRES_PASSWORD": dbPassword,
				"POSTGRES_DB":       dbName,
			},
		},
		port:    "5432/tcp",
		timeout: 60 * time.Second,
		url: func(host, port string) string {
			return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", dbUser, dbPassword, host, port, dbName)
		},
	})
}

// StartMySQL returns a go-sql-driver DSN for the test database.
func StartMySQL(ctx context.Context) (*Service, error) {
	return start(ctx, serviceSpec{
		req: testcontainers.ContainerRequest{
			Image: defaultMySQLImage,
			Env: map[string]string{
				"MYSQL_ROOT_PASSWORD": "root",
				"MYSQL_DATABASE":      dbName,
				"MYSQL_USER":          dbUser,
				"MYSQL_PASSWORD":      dbPassword,
			},
		},
		port:    "3306/tcp",
		timeout: 90 * time.Second,
		url: func(host, port string) string {
			return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s", dbUser, dbPassword, host, port, dbName)
		},
	})
}

func StartNATS(ctx context.Context) (*Service, error) {
	return start(ctx, serviceSpec{
		req:     testcontainers.ContainerRequest{Image: defaultNATSImage},
		port:    "4222/tcp",
		timeout: 30 * time.Second,
		url:     func(host, port string) string { return fmt.Sprintf("nats://%s:%s", host, port) },
	})
}

func StartRabbitMQ(ctx context.Context) (*Service, error) {
	return start(ctx, serviceSpec{
		req:     testcontainers.ContainerRequest{Image: defaultRabbitMQImage},
		port:    "5672/tcp",
		timeout: 60 * time.Second,
		url:     func(host, port string) string { return fmt.Sprintf("amqp://guest:guest@%s:%s/", host, port) },
	})
}

// StartKafka runs redpanda on a fixed host port, since the broker must
// advertise the address clients dial.
func StartKafka(ctx context.Context) (*Service, error) {
	hostPort, err := freePort()
	if err != nil {
		return nil, err
	}
	return start(ctx, serviceSpec{
		req: testcontainers.ContainerRequest{
			Image: defaultKafkaImage,
			Cmd: []string{
				"redpanda", "start",
				"--overprovisioned",
				"--node-id=0",
				"--check=false",
				"--smp=1",
				"--memory=1G",
				"--reserve-memory=0M",
				"--kafka-addr=PLAINTEXT://0.0.0.0:9092",
				fmt.Sprintf("--advertise-kafka-addr=PLAINTEXT://127.0.0.1:%d", hostPort),
			},
			HostConfigModifier: func(cfg *container.HostConfig) {
				cfg.PortBindings = nat.PortMap{
					"9092/tcp": []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: strconv.Itoa(hostPort)}},
				}
			},
		},
		port:    "9092/tcp",
		timeout: 120 * time.Second,
		url:     func(string, string) string { return fmt.Sprintf("127.0.0.1:%d", hostPort) },
	})
}

func freePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}
