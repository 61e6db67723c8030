package consent

import (
	"github.com/blockchainconsent/owner-mediated-records-sub000/internal/directory"
	"github.com/blockchainconsent/owner-mediated-records-sub000/pkg/types"
)

// RegisterAndConsentRequest registers a patient, enrolls them into a
// service, and applies an initial consent batch in one call.
type RegisterAndConsentRequest struct {
	PatientID   string                 `json:"patient_id"`
	PatientName string                 `json:"patient_name"`
	ServiceID   string                 `json:"service_id"`
	Consents    []types.ConsentRequest `json:"consents"`
}

// Pipeline coordinates the register-enroll-consent sequence. A failure
// at any stage is classified into its bucket and completed stages are
// never rolled back.
type Pipeline struct {
	dir   *directory.Directory
	store *Store
}

// NewPipeline creates the register-and-consent pipeline.
func NewPipeline(dir *directory.Directory, store *Store) *Pipeline {
	return &Pipeline{dir: dir, store: store}
}

// RegisterPatientAndConsent runs the pipeline. The returned result is
// always a soft success; callers inspect the failure buckets. A
// patient already registered or enrolled counts as a completed stage,
// not a failure.
func (p *Pipeline) RegisterPatientAndConsent(caller types.Actor, req RegisterAndConsentRequest) *types.MultiConsentResult {
	result := &types.MultiConsentResult{}

	if _, err := p.dir.RegisterPatient(caller, req.PatientID, req.PatientName); err != nil {
		if _, exists := p.dir.GetPatient(req.PatientID); !exists {
			p.failAll(result, req.Consents, types.FailureTypeRegistration, err)
			return result
		}
	}

	if err := p.dir.EnrollPatient(caller, req.PatientID, req.ServiceID); err != nil {
		p.failAll(result, req.Consents, types.FailureTypeEnrollment, err)
		return result
	}

	batch := p.store.ApplyMultiConsent(caller, req.Consents)
	result.Successes = batch.Successes
	result.Failures = append(result.Failures, batch.Failures...)
	return result
}

// failAll routes every consent item to the failures list under the
// stage bucket that broke the pipeline.
func (p *Pipeline) failAll(result *types.MultiConsentResult, items []types.ConsentRequest, failureType types.ConsentFailureType, err error) {
	for _, item := range items {
		result.Failures = append(result.Failures, types.ConsentFailure{
			Request:     item,
			FailureType: failureType,
			Reason:      err.Error(),
		})
	}
}
