package main

import (
	"context"

	"github.com/crewsync/crewsync/internal/model"
	"github.com/crewsync/crewsync/internal/remote"
)

// unavailableClient stands in for the backend when it cannot be
// reached. Every call fails classified as unavailable, which the
// mutation pipeline treats as "saved locally only" and read paths treat
// as "use the cached snapshot".
type unavailableClient struct {
	err error
}

func (c *unavailableClient) fail(op string) error {
	return &remote.Error{Op: op, Kind: remote.KindUnavailable, Err: c.err}
}

func (c *unavailableClient) ListTasks(context.Context, string) ([]model.Task, error) {
	return nil, c.fail("list tasks")
}

func (c *unavailableClient) GetTask(context.Context, string, string) (*model.Task, error) {
	return nil, c.fail("get task")
}

func (c *unavailableClient) InsertTask(context.Context, *remote.Row) error {
	return c.fail("insert task")
}

func (c *unavailableClient) UpdateTask(context.Context, string, string, *remote.Row) error {
	return c.fail("update task")
}

func (c *unavailableClient) DeleteTask(context.Context, string, string) error {
	return c.fail("delete task")
}

func (c *unavailableClient) ListEmployees(context.Context, string) ([]model.Employee, error) {
	return nil, c.fail("list employees")
}

func (c *unavailableClient) GetEmployee(context.Context, string, string) (*model.Employee, error) {
	return nil, c.fail("get employee")
}

func (c *unavailableClient) InsertEmployee(context.Context, *remote.Row) error {
	return c.fail("insert employee")
}

func (c *unavailableClient) UpdateEmployee(context.Context, string, string, *remote.Row) error {
	return c.fail("update employee")
}

func (c *unavailableClient) DeleteEmployee(context.Context, string, string) error {
	return c.fail("delete employee")
}

func (c *unavailableClient) SchemaVersion(context.Context) (string, error) {
	return "", c.fail("schema version")
}

func (c *unavailableClient) DeviceToken(context.Context, string, string) (string, error) {
	return "", c.fail("device token")
}

func (c *unavailableClient) Close() error { return nil }
