package sqlstore

import (
	"database/sql"

	"github.com/luno/jettison/errors"

	"github.com/andrewwormald/durable"
)

func eventScan(row row) (*durable.Event, error) {
	var (
		e           durable.Event
		eventType   int
		failureKind int
	)
	err := row.Scan(
		&e.ID,
		&e.InstanceID,
		&e.TaskID,
		&eventType,
		&e.Name,
		&e.ChildID,
		&e.Input,
		&e.Output,
		&failureKind,
		&e.FailureMessage,
		&e.Timestamp,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(durable.ErrInstanceNotFound, "")
	} else if err != nil {
		return nil, errors.Wrap(err, "eventScan")
	}

	e.Type = durable.EventType(eventType)
	e.FailureKind = durable.FailureKind(failureKind)

	return &e, nil
}

func instanceScan(row row) (*durable.Instance, error) {
	in, err := instanceRowsScan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(durable.ErrInstanceNotFound, "")
	} else if err != nil {
		return nil, err
	}

	return in, nil
}

func instanceRowsScan(row row) (*durable.Instance, error) {
	var (
		in      durable.Instance
		kind    int
		status  int
		errKind int
	)
	err := row.Scan(
		&in.ID,
		&kind,
		&in.Orchestration,
		&in.ParentID,
		&in.Input,
		&status,
		&in.Output,
		&in.ErrMessage,
		&errKind,
		&in.CreatedAt,
		&in.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	in.Kind = durable.Kind(kind)
	in.Status = durable.Status(status)
	in.ErrKind = durable.FailureKind(errKind)

	return &in, nil
}

// row is a common interface for *sql.Rows and *sql.Row.
type row interface {
	Scan(dest ...any) error
}
