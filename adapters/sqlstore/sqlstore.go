// Package sqlstore implements durable.HistoryStore and durable.InstanceStore on
// top of a MySQL database. Events are strictly ordered per instance by the seq
// column, assigned inside the append transaction so that the sequence is
// contiguous and durable before Append acknowledges.
package sqlstore

import (
	"context"
	"database/sql"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/andrewwormald/durable"
)

type SQLStore struct {
	writer *sql.DB
	reader *sql.DB

	eventsTableName    string
	eventsCols         string
	eventsSelectPrefix string

	instancesTableName    string
	instancesCols         string
	instancesSelectPrefix string
}

func New(writer *sql.DB, reader *sql.DB, eventsTable, instancesTable string) *SQLStore {
	s := &SQLStore{
		writer:             writer,
		reader:             reader,
		eventsTableName:    eventsTable,
		instancesTableName: instancesTable,
	}

	s.eventsCols = " `seq`, `instance_id`, `task_id`, `type`, `name`, `child_id`, `input`, `output`, `failure_kind`, `failure_message`, `timestamp` "
	s.eventsSelectPrefix = " select " + s.eventsCols + " from " + s.eventsTableName + " where "

	s.instancesCols = " `id`, `kind`, `orchestration`, `parent_id`, `input`, `status`, `output`, `err_message`, `err_kind`, `created_at`, `updated_at` "
	s.instancesSelectPrefix = " select " + s.instancesCols + " from " + s.instancesTableName + " where "

	return s
}

var (
	_ durable.HistoryStore  = (*SQLStore)(nil)
	_ durable.InstanceStore = (*SQLStore)(nil)
)

func (s *SQLStore) Append(ctx context.Context, e *durable.Event) (int64, error) {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var seq int64
	row := tx.QueryRowContext(ctx,
		"select coalesce(max(`seq`), 0) + 1 from "+s.eventsTableName+" where instance_id=? for update",
		e.InstanceID,
	)
	err = row.Scan(&seq)
	if err != nil {
		return 0, err
	}

	_, err = tx.ExecContext(ctx,
		"insert into "+s.eventsTableName+" set `seq`=?, `instance_id`=?, `task_id`=?, `type`=?, `name`=?, "+
			"`child_id`=?, `input`=?, `output`=?, `failure_kind`=?, `failure_message`=?, `timestamp`=?",
		seq, e.InstanceID, e.TaskID, int(e.Type), e.Name,
		e.ChildID, e.Input, e.Output, int(e.FailureKind), e.FailureMessage, e.Timestamp,
	)
	if err != nil {
		return 0, err
	}

	err = tx.Commit()
	if err != nil {
		return 0, err
	}

	return seq, nil
}

func (s *SQLStore) Read(ctx context.Context, instanceID string) ([]durable.Event, error) {
	rows, err := s.reader.QueryContext(ctx,
		s.eventsSelectPrefix+"instance_id=? order by `seq` asc",
		instanceID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "list events", j.KV("instance_id", instanceID))
	}
	defer rows.Close()

	var ls []durable.Event
	for rows.Next() {
		e, err := eventScan(rows)
		if err != nil {
			return nil, err
		}

		ls = append(ls, *e)
	}

	return ls, rows.Err()
}

func (s *SQLStore) Store(ctx context.Context, in *durable.Instance) error {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists bool
	row := tx.QueryRowContext(ctx,
		"select exists (select 1 from "+s.instancesTableName+" where id=?)",
		in.ID,
	)
	err = row.Scan(&exists)
	if err != nil {
		return err
	}

	if exists {
		_, err = tx.ExecContext(ctx,
			"update "+s.instancesTableName+" set `status`=?, `output`=?, `err_message`=?, `err_kind`=?, `updated_at`=? where id=?",
			int(in.Status), in.Output, in.ErrMessage, int(in.ErrKind), in.UpdatedAt, in.ID,
		)
	} else {
		_, err = tx.ExecContext(ctx,
			"insert into "+s.instancesTableName+" set `id`=?, `kind`=?, `orchestration`=?, `parent_id`=?, `input`=?, "+
				"`status`=?, `output`=?, `err_message`=?, `err_kind`=?, `created_at`=?, `updated_at`=?",
			in.ID, int(in.Kind), in.Orchestration, in.ParentID, in.Input,
			int(in.Status), in.Output, in.ErrMessage, int(in.ErrKind), in.CreatedAt, in.UpdatedAt,
		)
	}
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLStore) Lookup(ctx context.Context, id string) (*durable.Instance, error) {
	return instanceScan(s.reader.QueryRowContext(ctx, s.instancesSelectPrefix+"id=?", id))
}

func (s *SQLStore) List(ctx context.Context, kind durable.Kind) ([]durable.Instance, error) {
	q := s.instancesSelectPrefix + "1=1 order by `created_at` asc, `id` asc"
	args := []any{}
	if kind != durable.KindUnknown {
		q = s.instancesSelectPrefix + "`kind`=? order by `created_at` asc, `id` asc"
		args = append(args, int(kind))
	}

	rows, err := s.reader.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list instances")
	}
	defer rows.Close()

	var ls []durable.Instance
	for rows.Next() {
		in, err := instanceRowsScan(rows)
		if err != nil {
			return nil, err
		}

		ls = append(ls, *in)
	}

	return ls, rows.Err()
}
