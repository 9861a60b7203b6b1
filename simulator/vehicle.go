package simulator

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/kilianp07/fleetlive/core/geofence"
	"github.com/kilianp07/fleetlive/core/model"
)

// Bus cycles through idle, on alley and on road. A trip runs in a straight
// line from the terminal the bus is parked at to another terminal, and its
// last position lands exactly on the destination so the arrival rule fires.
type Bus struct {
	ID    string
	Plate string

	cfg   Config
	rng   *rand.Rand
	speed distuv.Normal
	stops []geofence.Coordinate
	names []string

	status   model.Status
	tick     int
	trip     int
	dispatch int
	from, to int
	crew     []model.UserProfile
}

func newBus(n int, cfg Config, stops []geofence.Coordinate, names []string) *Bus {
	seed := cfg.Seed + uint64(n)
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	b := &Bus{
		ID:     strconv.Itoa(n),
		Plate:  fmt.Sprintf("SIM %04d", n),
		cfg:    cfg,
		rng:    rng,
		speed:  distuv.Normal{Mu: cfg.SpeedKMH, Sigma: cfg.SpeedKMH / 5, Src: rng},
		stops:  stops,
		names:  names,
		status: model.StatusIdle,
		from:   n % len(stops),
		crew: []model.UserProfile{
			{Position: model.PositionDriver, FirstName: "Driver", LastName: strconv.Itoa(n)},
			{Position: model.PositionConductor, FirstName: "Conductor", LastName: strconv.Itoa(n)},
		},
	}
	b.to = b.from
	return b
}

// Status reports the phase the next event will belong to.
func (b *Bus) Status() model.Status { return b.status }

// Destination returns the terminal the current trip is headed to.
func (b *Bus) Destination() string { return b.names[b.to] }

// Next returns the event for this tick and advances the bus.
func (b *Bus) Next(now time.Time) model.Event {
	ev := model.Event{
		VehicleID:   model.ID(b.ID),
		PlateNumber: b.Plate,
		Timestamp:   float64(now.UnixNano()) / float64(time.Second),
	}
	var pos geofence.Coordinate
	speed := 0.0
	switch b.status {
	case model.StatusIdle:
		pos = b.stops[b.from]
		b.tick++
		if b.tick >= b.cfg.IdleTicks {
			b.startAlley()
		}
	case model.StatusOnAlley:
		pos = b.stops[b.from]
		ev.DispatchLog = b.dispatchLog(model.StatusOnAlley)
		b.tick++
		if b.tick >= b.cfg.AlleyTicks {
			b.status, b.tick = model.StatusOnRoad, 0
		}
	case model.StatusOnRoad:
		b.tick++
		pos = b.positionAt(b.tick)
		ev.DispatchLog = b.dispatchLog(model.StatusOnRoad)
		if b.tick >= b.cfg.RoadTicks {
			b.from = b.to
			b.status, b.tick = model.StatusIdle, 0
		} else {
			speed = max(b.speed.Rand(), 0)
		}
	}
	lat, lng := pos.Lat, pos.Lng
	ev.Location = &model.Location{Latitude: &lat, Longitude: &lng, Speed: &speed}
	return ev
}

func (b *Bus) startAlley() {
	b.status, b.tick = model.StatusOnAlley, 0
	b.trip++
	b.dispatch = b.trip
	b.to = b.from
	if len(b.stops) > 1 {
		for b.to == b.from {
			b.to = b.rng.IntN(len(b.stops))
		}
	}
}

// positionAt interpolates the trip. Intermediate points are nudged off the
// straight line so a short trip never crosses a terminal early.
func (b *Bus) positionAt(tick int) geofence.Coordinate {
	from, to := b.stops[b.from], b.stops[b.to]
	if tick >= b.cfg.RoadTicks {
		return to
	}
	f := float64(tick) / float64(b.cfg.RoadTicks)
	return geofence.Coordinate{
		Lat: from.Lat + (to.Lat-from.Lat)*f + 0.002,
		Lng: from.Lng + (to.Lng-from.Lng)*f + 0.002,
	}
}

func (b *Bus) dispatchLog(st model.Status) *model.DispatchLog {
	return &model.DispatchLog{
		DispatchLogsID: model.ID(fmt.Sprintf("%s-%d", b.ID, b.dispatch)),
		Status:         st,
		Route:          fmt.Sprintf("%s - %s", b.names[b.from], b.names[b.to]),
		VehicleAssignment: &model.VehicleAssignment{
			ID:           model.ID("va-" + b.ID),
			UserProfiles: b.crew,
		},
	}
}
