package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/lightearth/lightearth-proxy/pkg/log"
	"github.com/lightearth/lightearth-proxy/pkg/types"
)

const registrationsCollection = "registrations"

// FirestoreProvider implements the Database interface using Google Cloud
// Firestore. Each registration is a document holding the JSON encoded
// registration plus the fields it is queried by.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

var _ Database = (*FirestoreProvider)(nil)

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// an empty project id is detected from the environment
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func registrationDoc(reg types.Registration) (map[string]interface{}, error) {
	regJSON, err := json.Marshal(reg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal registration %s: %w", reg.ID, err)
	}
	return map[string]interface{}{
		"json":      string(regJSON),
		"deviceID":  reg.DeviceID,
		"status":    string(reg.Status),
		"createdAt": reg.CreatedAt,
	}, nil
}

func decodeRegistration(ctx context.Context, doc *firestore.DocumentSnapshot) (types.Registration, error) {
	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "registration doc missing json", slog.String("id", doc.Ref.ID), slog.Any("err", err))
		return types.Registration{}, fmt.Errorf("registration %s missing json: %w", doc.Ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "registration doc json not string", slog.String("id", doc.Ref.ID))
		return types.Registration{}, fmt.Errorf("registration %s json not string", doc.Ref.ID)
	}
	var reg types.Registration
	if err := json.Unmarshal([]byte(jsonStr), &reg); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal registration", slog.String("id", doc.Ref.ID), slog.Any("err", err))
		return types.Registration{}, fmt.Errorf("failed to unmarshal registration %s: %w", doc.Ref.ID, err)
	}
	return reg, nil
}

// CreateRegistration implements Database. The device check and the insert
// run in one transaction so two concurrent submissions for the same device
// cannot both succeed.
func (f *FirestoreProvider) CreateRegistration(ctx context.Context, reg types.Registration) error {
	data, err := registrationDoc(reg)
	if err != nil {
		return err
	}
	coll := f.client.Collection(registrationsCollection)
	return f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		iter := tx.Documents(coll.Where("deviceID", "==", reg.DeviceID))
		defer iter.Stop()
		for {
			doc, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				return fmt.Errorf("error iterating registrations for %s: %w", reg.DeviceID, err)
			}
			existing, err := decodeRegistration(ctx, doc)
			if err != nil {
				continue
			}
			if existing.Active() {
				return fmt.Errorf("%w: %s", ErrDeviceRegistered, reg.DeviceID)
			}
		}
		if err := tx.Create(coll.Doc(reg.ID), data); err != nil {
			return fmt.Errorf("failed to create registration %s: %w", reg.ID, err)
		}
		return nil
	})
}

// GetRegistration retrieves a registration from the "registrations" collection.
func (f *FirestoreProvider) GetRegistration(ctx context.Context, id string) (types.Registration, error) {
	if id == "" {
		return types.Registration{}, fmt.Errorf("%w: empty id", ErrRegistrationNotFound)
	}
	doc, err := f.client.Collection(registrationsCollection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.Registration{}, fmt.Errorf("%w: %s", ErrRegistrationNotFound, id)
		}
		return types.Registration{}, fmt.Errorf("failed to get registration %s: %w", id, err)
	}
	return decodeRegistration(ctx, doc)
}

// FindRegistrationsByDevice implements Database.
func (f *FirestoreProvider) FindRegistrationsByDevice(ctx context.Context, deviceID string) ([]types.Registration, error) {
	q := f.client.Collection(registrationsCollection).Where("deviceID", "==", deviceID)
	regs, err := f.query(ctx, q)
	if err != nil {
		return nil, err
	}
	sortRegistrations(regs, true)
	return regs, nil
}

// ListRegistrations implements Database.
func (f *FirestoreProvider) ListRegistrations(ctx context.Context, st types.RegistrationStatus) ([]types.Registration, error) {
	q := f.client.Collection(registrationsCollection).Query
	if st != "" {
		q = q.Where("status", "==", string(st))
	}
	regs, err := f.query(ctx, q)
	if err != nil {
		return nil, err
	}
	// sorted here so no composite index is needed
	sortRegistrations(regs, false)
	return regs, nil
}

func (f *FirestoreProvider) query(ctx context.Context, q firestore.Query) ([]types.Registration, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	regs := []types.Registration{}
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating registrations: %w", err)
		}
		reg, err := decodeRegistration(ctx, doc)
		if err != nil {
			// Skip malformed documents
			continue
		}
		regs = append(regs, reg)
	}
	return regs, nil
}

// UpdateRegistration overwrites an existing registration.
func (f *FirestoreProvider) UpdateRegistration(ctx context.Context, reg types.Registration) error {
	data, err := registrationDoc(reg)
	if err != nil {
		return err
	}
	var fields []firestore.Update
	for k, v := range data {
		fields = append(fields, firestore.Update{Path: k, Value: v})
	}
	_, err = f.client.Collection(registrationsCollection).Doc(reg.ID).Update(ctx, fields)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: %s", ErrRegistrationNotFound, reg.ID)
		}
		return fmt.Errorf("failed to update registration %s: %w", reg.ID, err)
	}
	return nil
}

// TransitionRegistration implements Database inside a transaction, so a
// concurrent change to the document makes one side retry and see the new
// status.
func (f *FirestoreProvider) TransitionRegistration(ctx context.Context, id string, from types.RegistrationStatus, update func(*types.Registration)) (types.Registration, error) {
	if id == "" {
		return types.Registration{}, fmt.Errorf("%w: empty id", ErrRegistrationNotFound)
	}
	ref := f.client.Collection(registrationsCollection).Doc(id)
	var out types.Registration
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return fmt.Errorf("%w: %s", ErrRegistrationNotFound, id)
			}
			return fmt.Errorf("failed to get registration %s: %w", id, err)
		}
		reg, err := decodeRegistration(ctx, doc)
		if err != nil {
			return err
		}
		out = reg
		if reg.Status != from {
			return fmt.Errorf("%w: %s is %s", ErrStatusConflict, id, reg.Status)
		}
		update(&reg)
		data, err := registrationDoc(reg)
		if err != nil {
			return err
		}
		if err := tx.Set(ref, data); err != nil {
			return fmt.Errorf("failed to update registration %s: %w", id, err)
		}
		out = reg
		return nil
	})
	return out, err
}
