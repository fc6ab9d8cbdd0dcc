package mfa

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var errProvider = errors.New("provider unavailable")

type fakeIDP struct {
	mu        sync.Mutex
	factors   []Factor
	metadata  map[string]any
	serial    int
	validCode string

	unenrollErr   error
	unenrollFail  string
	metaWriteErr  error
	metaWrites    []map[string]any
	unenrolled    []string
	listCalls     int
	challengeSeen string
}

func newFakeIDP() *fakeIDP {
	return &fakeIDP{metadata: map[string]any{}, validCode: "123456"}
}

func (f *fakeIDP) ListFactors(context.Context) ([]Factor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return append([]Factor(nil), f.factors...), nil
}

func (f *fakeIDP) EnrollTOTPFactor(_ context.Context, name string) (FactorEnrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.serial++
	id := fmt.Sprintf("factor-%d", f.serial)
	f.factors = append(f.factors, Factor{ID: id, Type: FactorTOTP, Status: FactorUnverified, FriendlyName: name})
	return FactorEnrollment{FactorID: id, Secret: "JBSWY3DPEHPK3PXP"}, nil
}

func (f *fakeIDP) UnenrollFactor(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unenrollErr != nil {
		return f.unenrollErr
	}
	if id == f.unenrollFail {
		return errProvider
	}
	for i, fac := range f.factors {
		if fac.ID == id {
			f.factors = append(f.factors[:i], f.factors[i+1:]...)
			f.unenrolled = append(f.unenrolled, id)
			return nil
		}
	}
	return errors.New("factor not found")
}

func (f *fakeIDP) ChallengeFactor(_ context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.challengeSeen = id
	return "challenge-" + id, nil
}

func (f *fakeIDP) VerifyChallenge(_ context.Context, factorID, challengeID, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if challengeID != "challenge-"+factorID {
		return errors.New("challenge mismatch")
	}
	if code != f.validCode {
		return errors.New("invalid totp code")
	}
	for i := range f.factors {
		if f.factors[i].ID == factorID {
			f.factors[i].Status = FactorVerified
			return nil
		}
	}
	return errors.New("factor not found")
}

func (f *fakeIDP) GetProfileMetadata(context.Context) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]any, len(f.metadata))
	for k, v := range f.metadata {
		out[k] = v
	}
	return out, nil
}

func (f *fakeIDP) UpdateProfileMetadata(_ context.Context, patch map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metaWrites = append(f.metaWrites, patch)
	if f.metaWriteErr != nil {
		return f.metaWriteErr
	}
	for k, v := range patch {
		f.metadata[k] = v
	}
	return nil
}

func newTestService(idp *fakeIDP, password string) *Service {
	return NewService(Config{Issuer: "Acme Corp"}, Deps{
		Factors:  idp,
		Metadata: idp,
		Reauthenticate: func(_ context.Context, pw string) error {
			if pw != password {
				return errors.New("invalid login credentials")
			}
			return nil
		},
		Now: func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
}
