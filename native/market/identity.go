package market

import "fmt"

// SensorIDLength is the size of a verified sensor identifier.
const SensorIDLength = 32

// RegisterAsBrand flags the invoker as a brand. Repeated calls are no-ops.
func (e *Engine) RegisterAsBrand(env Env) error {
	if err := e.ready(env); err != nil {
		return err
	}
	invoker := env.Invoker()
	already, err := e.state.IsBrand(invoker)
	if err != nil {
		return err
	}
	if already {
		return nil
	}
	if err := e.state.SetBrand(invoker); err != nil {
		return err
	}
	e.emit(NewBrandRegisteredEvent(invoker))
	return nil
}

// AddPromotionSecret stores the invoker's promotion blob, replacing any
// earlier one.
func (e *Engine) AddPromotionSecret(env Env, secret []byte) error {
	if err := e.ready(env); err != nil {
		return err
	}
	if len(secret) == 0 {
		return fmt.Errorf("%w: empty secret", ErrInvalidSecret)
	}
	invoker := env.Invoker()
	if err := e.state.SetPromotionSecret(invoker, append([]byte(nil), secret...)); err != nil {
		return err
	}
	e.emit(NewPromotionSecretStoredEvent(invoker, len(secret)))
	return nil
}

// AddGenStation maps a sensor code to the invoker. The last writer wins unless
// the engine runs with ExclusiveGenStations.
func (e *Engine) AddGenStation(env Env, code []byte) error {
	if err := e.ready(env); err != nil {
		return err
	}
	if len(code) == 0 {
		return ErrInvalidCode
	}
	invoker := env.Invoker()
	existing, ok, err := e.state.GenStationAddress(code)
	if err != nil {
		return err
	}
	var previous *[20]byte
	if ok {
		if existing == invoker {
			return nil
		}
		if e.params.ExclusiveGenStations {
			return ErrGenStationClaimed
		}
		previous = &existing
		e.logger.Warn("generation station code reassigned",
			"code", fmt.Sprintf("%x", code))
	}
	if err := e.state.SetGenStationAddress(code, invoker); err != nil {
		return err
	}
	e.emit(NewGenStationClaimedEvent(code, invoker, previous))
	return nil
}

// CheckVerifiedSensors reports whether code is a verified sensor. A match
// latches the global verified flag.
func (e *Engine) CheckVerifiedSensors(env Env, code []byte) (bool, error) {
	if err := e.ready(env); err != nil {
		return false, err
	}
	if err := e.requireInitialised(); err != nil {
		return false, err
	}
	if len(code) != SensorIDLength {
		return false, nil
	}
	var id [SensorIDLength]byte
	copy(id[:], code)
	sensors, err := e.state.VerifiedSensors()
	if err != nil {
		return false, err
	}
	for _, sensor := range sensors {
		if sensor != id {
			continue
		}
		if err := e.state.SetVerified(); err != nil {
			return false, err
		}
		e.emit(NewSensorVerifiedEvent(id, env.Invoker()))
		return true, nil
	}
	return false, nil
}

func (e *Engine) IsVerified() (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	return e.state.IsVerified()
}

func (e *Engine) IsBrand(addr [20]byte) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	return e.state.IsBrand(addr)
}

// GenStation resolves a sensor code to the producer that claimed it.
func (e *Engine) GenStation(code []byte) ([20]byte, bool, error) {
	if e == nil || e.state == nil {
		return [20]byte{}, false, errNilState
	}
	return e.state.GenStationAddress(code)
}

// addEligiblePromotions appends secret to the seller's queue. Duplicates are
// kept: each consumption earns one entry.
func (e *Engine) addEligiblePromotions(seller [20]byte, secret []byte) error {
	queue, err := e.state.EligiblePromotions(seller)
	if err != nil {
		return err
	}
	queue = append(queue, append([]byte(nil), secret...))
	return e.state.SetEligiblePromotions(seller, queue)
}

// GetAllEligiblePromotions returns the seller's queue, empty when absent.
func (e *Engine) GetAllEligiblePromotions(seller [20]byte) ([][]byte, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	queue, err := e.state.EligiblePromotions(seller)
	if err != nil {
		return nil, err
	}
	if queue == nil {
		queue = [][]byte{}
	}
	return queue, nil
}
