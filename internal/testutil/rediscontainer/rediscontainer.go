// Package rediscontainer runs the Redis instance used by the cache
// integration tests.
package rediscontainer

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/adeilh/rakh-sync/internal/testutil/container"
)

const hostPort = "6390"

var fixture = &container.Fixture{
	Dockerfile:   "Dockerfile.redis.test",
	Name:         "rakh-sync-redis-test",
	Ports:        map[string]string{hostPort: "6379"},
	Ready:        ping,
	ReadyTimeout: 5 * time.Second,
}

// Addr exposes the Redis host:port combination used by integration tests.
func Addr() string { return "127.0.0.1:" + hostPort }

// Setup builds the Redis test image, runs the container, and waits until it
// answers RESP PING/PONG exchanges.
func Setup() error { return fixture.Setup() }

// Teardown stops the Redis container if it is running.
func Teardown() error { return fixture.Teardown() }

func ping() error {
	conn, err := net.DialTimeout("tcp", Addr(), 200*time.Millisecond)
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("*1\r\n$4\r\nPING\r\n")); err != nil {
		return err
	}
	_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return err
	}
	if !strings.HasPrefix(line, "+PONG") {
		return fmt.Errorf("unexpected PING reply %q", strings.TrimSpace(line))
	}
	return nil
}
