// Package sqlite is the durable record store, backed by a pure-Go SQLite pool.
package sqlite

import (
	"context"
	"crypto/subtle"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/autopeer-io/adfleet/internal/hub/core"
	"github.com/autopeer-io/adfleet/internal/hub/core/model"
	"github.com/autopeer-io/adfleet/internal/hub/store"
	"github.com/autopeer-io/adfleet/internal/pkg/util"
	"github.com/autopeer-io/adfleet/pkg/log"
)

//go:embed schema.sql
var schema string

var (
	_ core.Repository = (*Store)(nil)
	_ store.Seeder    = (*Store)(nil)
)

// Store implements the record store ports on a SQLite database.
type Store struct {
	pool *sqlitex.Pool
	log  log.Logger
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string, poolSize int) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite store: path is required")
	}
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite store: opening %s: %w", path, err)
	}

	s := &Store{pool: pool, log: log.WithName("sqlite").WithValues("path", path)}

	conn, err := pool.Take(ctx)
	if err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("sqlite store: %w", err)
	}
	err = sqlitex.ExecuteScript(conn, schema, nil)
	pool.Put(conn)
	if err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("sqlite store: applying schema: %w", err)
	}

	s.log.Info("SQLite store opened", "poolSize", poolSize)
	return s, nil
}

func prepareConn(conn *sqlite.Conn) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}

// Close closes the pool, waiting for borrowed connections.
func (s *Store) Close() error {
	return s.pool.Close()
}

func (s *Store) Device() core.DeviceRepository         { return (*devices)(s) }
func (s *Store) Vehicle() core.VehicleRepository       { return (*vehicles)(s) }
func (s *Store) Campaign() core.CampaignRepository     { return (*campaigns)(s) }
func (s *Store) Impression() core.ImpressionRepository { return (*impressions)(s) }

// withConn borrows a connection for the duration of fn.
func (s *Store) withConn(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite store: %w", err)
	}
	defer s.pool.Put(conn)
	return fn(conn)
}

// withTx runs fn inside an IMMEDIATE transaction.
func (s *Store) withTx(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) (err error) {
		end, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return fmt.Errorf("sqlite store: begin transaction: %w", err)
		}
		defer end(&err)
		return fn(conn)
	})
}

// Seed upserts every entry of seed in one transaction.
func (s *Store) Seed(ctx context.Context, seed *store.Seed) error {
	return s.withTx(ctx, func(conn *sqlite.Conn) error {
		for _, v := range seed.Vehicles {
			if err := putVehicle(conn, v.ToVehicle()); err != nil {
				return err
			}
		}
		for _, d := range seed.Devices {
			if err := putDevice(conn, d.ToDevice()); err != nil {
				return err
			}
		}
		for _, c := range seed.Campaigns {
			if err := putCampaign(conn, c.ToCampaign()); err != nil {
				return err
			}
		}
		return nil
	})
}

func putDevice(conn *sqlite.Conn, d *model.Device) error {
	ids, err := encodeJSON(d.CampaignIDs)
	if err != nil {
		return err
	}
	return sqlitex.Execute(conn, `INSERT INTO devices
		(id, token, campaign_ids, campaign_id, vehicle_id, role, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			token = excluded.token,
			campaign_ids = excluded.campaign_ids,
			campaign_id = excluded.campaign_id,
			vehicle_id = excluded.vehicle_id,
			role = excluded.role,
			status = excluded.status`,
		&sqlitex.ExecOptions{
			Args: []any{d.ID, d.Token, ids, d.CampaignID, d.VehicleID, string(d.Role), string(d.Status)},
		})
}

func putVehicle(conn *sqlite.Conn, v *model.Vehicle) error {
	ids, err := encodeJSON(v.CampaignIDs)
	if err != nil {
		return err
	}
	var wifi any
	if v.WiFi != nil {
		raw, err := json.Marshal(v.WiFi)
		if err != nil {
			return fmt.Errorf("sqlite store: marshal wifi: %w", err)
		}
		wifi = string(raw)
	}
	return sqlitex.Execute(conn, `INSERT INTO vehicles (id, campaign_ids, wifi, active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			campaign_ids = excluded.campaign_ids,
			wifi = excluded.wifi,
			active = excluded.active`,
		&sqlitex.ExecOptions{Args: []any{v.ID, ids, wifi, boolInt(v.Active)}})
}

func putCampaign(conn *sqlite.Conn, c *model.Campaign) error {
	playlist, err := json.Marshal(c.Playlist)
	if err != nil {
		return fmt.Errorf("sqlite store: marshal playlist: %w", err)
	}
	return sqlitex.Execute(conn, `INSERT INTO campaigns (id, name, status, playlist)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			playlist = excluded.playlist`,
		&sqlitex.ExecOptions{Args: []any{c.ID, c.Name, string(c.Status), string(playlist)}})
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func encodeJSON(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("sqlite store: marshal ids: %w", err)
	}
	return string(raw), nil
}

func decodeIDs(raw string) []string {
	var ids []string
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), &ids); err != nil || len(ids) == 0 {
		return nil
	}
	return ids
}

const deviceColumns = `id, token, campaign_ids, campaign_id, vehicle_id, role, status,
	last_seen, battery_level, storage_used`

func scanDevice(stmt *sqlite.Stmt) *model.Device {
	d := &model.Device{
		ID:          stmt.ColumnText(0),
		Token:       stmt.ColumnText(1),
		CampaignIDs: decodeIDs(stmt.ColumnText(2)),
		CampaignID:  stmt.ColumnText(3),
		VehicleID:   stmt.ColumnText(4),
		Role:        model.DeviceRole(stmt.ColumnText(5)),
		Status:      model.DeviceStatus(stmt.ColumnText(6)),
	}
	if !stmt.ColumnIsNull(7) {
		d.LastSeen = time.UnixMilli(stmt.ColumnInt64(7))
	}
	if !stmt.ColumnIsNull(8) {
		v := stmt.ColumnFloat(8)
		d.BatteryLevel = &v
	}
	if !stmt.ColumnIsNull(9) {
		v := stmt.ColumnFloat(9)
		d.StorageUsed = &v
	}
	return d
}

type devices Store

func (r *devices) Get(ctx context.Context, id string) (*model.Device, error) {
	var found *model.Device
	err := (*Store)(r).withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT "+deviceColumns+" FROM devices WHERE id = ?",
			&sqlitex.ExecOptions{
				Args: []any{id},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					found = scanDevice(stmt)
					return nil
				},
			})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("device %s: %w", id, util.ErrNotFound)
	}
	return found, nil
}

func (r *devices) Authenticate(ctx context.Context, id, token string) (*model.Device, error) {
	d, err := r.Get(ctx, id)
	if errors.Is(err, util.ErrNotFound) {
		return nil, util.ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if d.Token == "" || subtle.ConstantTimeCompare([]byte(d.Token), []byte(token)) != 1 {
		return nil, util.ErrUnauthorized
	}
	return d, nil
}

func (r *devices) ListByVehicle(ctx context.Context, vehicleID string) ([]*model.Device, error) {
	var out []*model.Device
	err := (*Store)(r).withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT "+deviceColumns+" FROM devices WHERE vehicle_id = ? ORDER BY id",
			&sqlitex.ExecOptions{
				Args: []any{vehicleID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					out = append(out, scanDevice(stmt))
					return nil
				},
			})
	})
	return out, err
}

func (r *devices) UpdateCampaigns(ctx context.Context, id string, campaignIDs []string) error {
	ids, err := encodeJSON(campaignIDs)
	if err != nil {
		return err
	}
	return (*Store)(r).withConn(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, "UPDATE devices SET campaign_ids = ? WHERE id = ?",
			&sqlitex.ExecOptions{Args: []any{ids, id}}); err != nil {
			return err
		}
		if conn.Changes() == 0 {
			return fmt.Errorf("device %s: %w", id, util.ErrNotFound)
		}
		return nil
	})
}

func (r *devices) SetPairing(ctx context.Context, id, vehicleID string, role model.DeviceRole) error {
	if vehicleID == "" {
		role = model.DeviceRoleStandalone
	}
	return (*Store)(r).withTx(ctx, func(conn *sqlite.Conn) error {
		if vehicleID != "" {
			exists := false
			err := sqlitex.Execute(conn, "SELECT 1 FROM vehicles WHERE id = ?", &sqlitex.ExecOptions{
				Args:       []any{vehicleID},
				ResultFunc: func(*sqlite.Stmt) error { exists = true; return nil },
			})
			if err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("vehicle %s: %w", vehicleID, util.ErrNotFound)
			}
		}
		if err := sqlitex.Execute(conn, "UPDATE devices SET vehicle_id = ?, role = ? WHERE id = ?",
			&sqlitex.ExecOptions{Args: []any{vehicleID, string(role), id}}); err != nil {
			return err
		}
		if conn.Changes() == 0 {
			return fmt.Errorf("device %s: %w", id, util.ErrNotFound)
		}
		return nil
	})
}

// WriteStatus updates only the columns set in update.
func (r *devices) WriteStatus(ctx context.Context, update *model.DeviceStatusUpdate) error {
	var (
		sets []string
		args []any
	)
	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.LastSeen != nil {
		sets = append(sets, "last_seen = ?")
		args = append(args, update.LastSeen.UnixMilli())
	}
	if update.BatteryLevel != nil {
		sets = append(sets, "battery_level = ?")
		args = append(args, *update.BatteryLevel)
	}
	if update.StorageUsed != nil {
		sets = append(sets, "storage_used = ?")
		args = append(args, *update.StorageUsed)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, update.DeviceID)

	query := "UPDATE devices SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	return (*Store)(r).withConn(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args}); err != nil {
			return err
		}
		if conn.Changes() == 0 {
			return fmt.Errorf("device %s: %w", update.DeviceID, util.ErrNotFound)
		}
		return nil
	})
}

func (r *devices) BatchUpdateStatus(ctx context.Context, update *model.DeviceStatusUpdate) error {
	return r.WriteStatus(ctx, update)
}

type vehicles Store

func scanVehicle(stmt *sqlite.Stmt) (*model.Vehicle, error) {
	v := &model.Vehicle{
		ID:          stmt.ColumnText(0),
		CampaignIDs: decodeIDs(stmt.ColumnText(1)),
		Active:      stmt.ColumnInt64(3) != 0,
	}
	if !stmt.ColumnIsNull(2) {
		v.WiFi = &model.WiFiConfig{}
		if err := json.Unmarshal([]byte(stmt.ColumnText(2)), v.WiFi); err != nil {
			return nil, fmt.Errorf("vehicle %s: unmarshal wifi: %w", v.ID, err)
		}
	}
	return v, nil
}

func (r *vehicles) Get(ctx context.Context, id string) (*model.Vehicle, error) {
	var found *model.Vehicle
	err := (*Store)(r).withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT id, campaign_ids, wifi, active FROM vehicles WHERE id = ?",
			&sqlitex.ExecOptions{
				Args: []any{id},
				ResultFunc: func(stmt *sqlite.Stmt) (err error) {
					found, err = scanVehicle(stmt)
					return err
				},
			})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("vehicle %s: %w", id, util.ErrNotFound)
	}
	return found, nil
}

func (r *vehicles) ListActive(ctx context.Context) ([]*model.Vehicle, error) {
	var out []*model.Vehicle
	err := (*Store)(r).withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT id, campaign_ids, wifi, active FROM vehicles WHERE active = 1 ORDER BY id",
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					v, err := scanVehicle(stmt)
					if err != nil {
						return err
					}
					out = append(out, v)
					return nil
				},
			})
	})
	return out, err
}

func (r *vehicles) UpdateCampaigns(ctx context.Context, id string, campaignIDs []string) error {
	ids, err := encodeJSON(campaignIDs)
	if err != nil {
		return err
	}
	return (*Store)(r).withConn(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, "UPDATE vehicles SET campaign_ids = ? WHERE id = ?",
			&sqlitex.ExecOptions{Args: []any{ids, id}}); err != nil {
			return err
		}
		if conn.Changes() == 0 {
			return fmt.Errorf("vehicle %s: %w", id, util.ErrNotFound)
		}
		return nil
	})
}

func (r *vehicles) Delete(ctx context.Context, id string) error {
	return (*Store)(r).withTx(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, "DELETE FROM vehicles WHERE id = ?",
			&sqlitex.ExecOptions{Args: []any{id}}); err != nil {
			return err
		}
		if conn.Changes() == 0 {
			return fmt.Errorf("vehicle %s: %w", id, util.ErrNotFound)
		}
		return sqlitex.Execute(conn, "UPDATE devices SET vehicle_id = '', role = ? WHERE vehicle_id = ?",
			&sqlitex.ExecOptions{Args: []any{string(model.DeviceRoleStandalone), id}})
	})
}

type campaigns Store

func (r *campaigns) ListActive(ctx context.Context, ids []string) ([]*model.Campaign, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, 0, len(ids)+1)
	args = append(args, string(model.CampaignStatusActive))
	for _, id := range ids {
		args = append(args, id)
	}

	var out []*model.Campaign
	err := (*Store)(r).withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteTransient(conn,
			"SELECT id, name, status, playlist FROM campaigns WHERE status = ? AND id IN ("+placeholders+")",
			&sqlitex.ExecOptions{
				Args: args,
				ResultFunc: func(stmt *sqlite.Stmt) error {
					c := &model.Campaign{
						ID:     stmt.ColumnText(0),
						Name:   stmt.ColumnText(1),
						Status: model.CampaignStatus(stmt.ColumnText(2)),
					}
					if err := json.Unmarshal([]byte(stmt.ColumnText(3)), &c.Playlist); err != nil {
						return fmt.Errorf("campaign %s: unmarshal playlist: %w", c.ID, err)
					}
					out = append(out, c)
					return nil
				},
			})
	})
	return out, err
}

type impressions Store

func (r *impressions) BulkInsert(ctx context.Context, batch []*model.Impression) error {
	if len(batch) == 0 {
		return nil
	}
	return (*Store)(r).withTx(ctx, func(conn *sqlite.Conn) error {
		for _, imp := range batch {
			err := sqlitex.Execute(conn, `INSERT INTO impressions
				(id, device_id, ad_id, campaign_id, media_type, duration_ms, occurred_at, received_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				&sqlitex.ExecOptions{Args: []any{
					imp.ID,
					imp.DeviceID,
					imp.AdID,
					imp.CampaignID,
					string(imp.MediaType),
					imp.DurationMs,
					imp.OccurredAt.UnixMilli(),
					imp.ReceivedAt.UnixMilli(),
				}})
			if err != nil {
				return fmt.Errorf("insert impression %s: %w", imp.ID, err)
			}
		}
		return nil
	})
}
