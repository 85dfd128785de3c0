package history

import (
	"reflect"

	"go.uber.org/mock/gomock"

	"github.com/jacksonlevine/pictosend/common/types"
)

// MockStore is a mock of Store interface.
type MockStore struct {
	ctrl     *gomock.Controller
	recorder *MockStoreMockRecorder
}

// MockStoreMockRecorder is the mock recorder for MockStore.
type MockStoreMockRecorder struct {
	mock *MockStore
}

// NewMockStore creates a new mock instance.
func NewMockStore(ctrl *gomock.Controller) *MockStore {
	mock := &MockStore{ctrl: ctrl}
	mock.recorder = &MockStoreMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockStore) EXPECT() *MockStoreMockRecorder {
	return m.recorder
}

// Load mocks base method.
func (m *MockStore) Load() ([]*types.UpdateRecord, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Load")
	ret0, _ := ret[0].([]*types.UpdateRecord)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// Load indicates an expected call of Load.
func (mr *MockStoreMockRecorder) Load() *MockStoreLoadCall {
	mr.mock.ctrl.T.Helper()
	call := mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Load", reflect.TypeOf((*MockStore)(nil).Load))
	return &MockStoreLoadCall{Call: call}
}

// MockStoreLoadCall wrap *gomock.Call.
type MockStoreLoadCall struct {
	*gomock.Call
}

// Return rewrite *gomock.Call.Return.
func (c *MockStoreLoadCall) Return(arg0 []*types.UpdateRecord, arg1 error) *MockStoreLoadCall {
	c.Call = c.Call.Return(arg0, arg1)
	return c
}

// Do rewrite *gomock.Call.Do.
func (c *MockStoreLoadCall) Do(f func() ([]*types.UpdateRecord, error)) *MockStoreLoadCall {
	c.Call = c.Call.Do(f)
	return c
}

// DoAndReturn rewrite *gomock.Call.DoAndReturn.
func (c *MockStoreLoadCall) DoAndReturn(f func() ([]*types.UpdateRecord, error)) *MockStoreLoadCall {
	c.Call = c.Call.DoAndReturn(f)
	return c
}

// Save mocks base method.
func (m *MockStore) Save(records []*types.UpdateRecord) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Save", records)
	ret0, _ := ret[0].(error)
	return ret0
}

// Save indicates an expected call of Save.
func (mr *MockStoreMockRecorder) Save(records any) *MockStoreSaveCall {
	mr.mock.ctrl.T.Helper()
	call := mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Save", reflect.TypeOf((*MockStore)(nil).Save), records)
	return &MockStoreSaveCall{Call: call}
}

// MockStoreSaveCall wrap *gomock.Call.
type MockStoreSaveCall struct {
	*gomock.Call
}

// Return rewrite *gomock.Call.Return.
func (c *MockStoreSaveCall) Return(arg0 error) *MockStoreSaveCall {
	c.Call = c.Call.Return(arg0)
	return c
}

// Do rewrite *gomock.Call.Do.
func (c *MockStoreSaveCall) Do(f func([]*types.UpdateRecord) error) *MockStoreSaveCall {
	c.Call = c.Call.Do(f)
	return c
}

// DoAndReturn rewrite *gomock.Call.DoAndReturn.
func (c *MockStoreSaveCall) DoAndReturn(f func([]*types.UpdateRecord) error) *MockStoreSaveCall {
	c.Call = c.Call.DoAndReturn(f)
	return c
}
