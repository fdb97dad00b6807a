package ata

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

func randomImage(t *testing.T, sectors int) []byte {
	image := make([]byte, sectors*SectorSize)
	_, err := rand.New(rand.NewSource(int64(sectors))).Read(image)
	require.NoError(t, err)
	return image
}

func newTestController(t *testing.T, image []byte, busyPolls int) *Controller {
	controller, err := NewController(bytesextra.NewReadWriteSeeker(image), nil)
	require.NoError(t, err)
	controller.BusyPolls = busyPolls
	return controller
}

func TestTransport_ReadSectors__Controller(t *testing.T) {
	image := randomImage(t, 64)

	tests := []struct {
		name      string
		lba       uint32
		count     uint8
		busyPolls int
	}{
		{name: "first sector", lba: 0, count: 1},
		{name: "single sector with busy drive", lba: 17, count: 1, busyPolls: 5},
		{name: "auto advance over several sectors", lba: 3, count: 5, busyPolls: 2},
		{name: "last sectors of the image", lba: 60, count: 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := NewTransport(newTestController(t, image, tt.busyPolls), nil)

			buffer := make([]byte, int(tt.count)*SectorSize)
			require.NoError(t, transport.ReadSectors(buffer, tt.count, tt.lba))

			start := int(tt.lba) * SectorSize
			assert.True(t, bytes.Equal(image[start:start+len(buffer)], buffer), "sector content differs")
		})
	}
}

func TestTransport_ReadSectors__PastEnd(t *testing.T) {
	image := randomImage(t, 8)
	controller := newTestController(t, image, 1)
	transport := NewTransport(controller, nil)

	buffer := make([]byte, 2*SectorSize)
	err := transport.ReadSectors(buffer, 2, 7)
	assert.ErrorIs(t, err, ErrDeviceError)

	// The error of the failed command lingers in the status register. The transport must
	// drain it before trusting the status of the next command.
	buffer = make([]byte, SectorSize)
	require.NoError(t, transport.ReadSectors(buffer, 1, 7))
	assert.Equal(t, image[7*SectorSize:], buffer)
}

func TestTransport_ReadSectors__Arguments(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	// No port may be touched for invalid arguments.
	transport := NewTransport(NewMockPorts(mockCtrl), nil)

	assert.ErrorIs(t, transport.ReadSectors(make([]byte, 511), 1, 0), ErrBufferSize)
	assert.ErrorIs(t, transport.ReadSectors(make([]byte, 1024), 1, 0), ErrBufferSize)
	assert.ErrorIs(t, transport.ReadSectors(nil, 0, 0), ErrBufferSize)
	assert.ErrorIs(t, transport.ReadSectors(make([]byte, 512), 1, MaxLBA), ErrLBARange)
	assert.ErrorIs(t, transport.ReadSectors(make([]byte, 1024), 2, MaxLBA-1), ErrLBARange)
}

// expectCommand registers the register writes of a READ SECTORS command followed by the
// four discarded status reads.
func expectCommand(ports *MockPorts, lba uint32, count uint8) *gomock.Call {
	calls := []*gomock.Call{
		ports.EXPECT().OutB(uint16(0x1F6), uint8(0xE0|lba>>24&0x0F)),
		ports.EXPECT().OutB(uint16(0x1F1), uint8(0)),
		ports.EXPECT().OutB(uint16(0x1F2), count),
		ports.EXPECT().OutB(uint16(0x1F3), uint8(lba)),
		ports.EXPECT().OutB(uint16(0x1F4), uint8(lba>>8)),
		ports.EXPECT().OutB(uint16(0x1F5), uint8(lba>>16)),
		ports.EXPECT().OutB(uint16(0x1F7), CmdReadPIO),
		// Stale flags of an earlier command must not abort the read.
		ports.EXPECT().InB(uint16(0x1F7)).Return(StatusErr | StatusDF).Times(4),
	}
	gomock.InOrder(calls...)
	return calls[len(calls)-1]
}

func TestTransport_ReadSectors__PortSequence(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()
	ports := NewMockPorts(mockCtrl)

	const lba = 0x01234567
	last := expectCommand(ports, lba, 2)

	gomock.InOrder(
		last,
		ports.EXPECT().InB(uint16(0x1F7)).Return(StatusBusy),
		ports.EXPECT().InB(uint16(0x1F7)).Return(StatusRDY|StatusDRQ),
		ports.EXPECT().InW(uint16(0x1F0)).Return(uint16(0xBEEF)).Times(256),
		ports.EXPECT().InB(uint16(0x1F7)).Return(StatusRDY|StatusDRQ),
		ports.EXPECT().InW(uint16(0x1F0)).Return(uint16(0x1234)).Times(256),
	)

	buffer := make([]byte, 2*SectorSize)
	require.NoError(t, NewTransport(ports, nil).ReadSectors(buffer, 2, lba))

	assert.Equal(t, bytes.Repeat([]byte{0xEF, 0xBE}, 256), buffer[:SectorSize])
	assert.Equal(t, bytes.Repeat([]byte{0x34, 0x12}, 256), buffer[SectorSize:])
}

func TestTransport_ReadSectors__DeviceFailure(t *testing.T) {
	tests := []struct {
		name    string
		status  uint8
		wantErr error
	}{
		{name: "error bit", status: StatusRDY | StatusErr, wantErr: ErrDeviceError},
		{name: "device fault", status: StatusRDY | StatusDF, wantErr: ErrDeviceFault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockCtrl := gomock.NewController(t)
			defer mockCtrl.Finish()
			ports := NewMockPorts(mockCtrl)

			last := expectCommand(ports, 10, 1)
			gomock.InOrder(
				last,
				ports.EXPECT().InB(uint16(0x1F7)).Return(StatusBusy),
				ports.EXPECT().InB(uint16(0x1F7)).Return(tt.status),
				ports.EXPECT().InB(uint16(0x1F1)).Return(uint8(0x04)),
			)

			err := NewTransport(ports, nil).ReadSectors(make([]byte, SectorSize), 1, 10)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestTransport_Identify(t *testing.T) {
	controller := newTestController(t, randomImage(t, 100), 3)

	data, err := NewTransport(controller, nil).Identify()
	require.NoError(t, err)
	assert.EqualValues(t, 100, data.LBA28Sectors)
	assert.EqualValues(t, 100, data.LBA48Sectors)
	assert.True(t, data.LBA48Supported)
}

func TestTransport_Identify__Failures(t *testing.T) {
	tests := []struct {
		name    string
		expect  func(ports *MockPorts)
		wantErr error
	}{
		{
			name: "no device",
			expect: func(ports *MockPorts) {
				ports.EXPECT().InB(uint16(0x1F7)).Return(uint8(0))
			},
			wantErr: ErrNoDevice,
		},
		{
			name: "atapi signature",
			expect: func(ports *MockPorts) {
				gomock.InOrder(
					ports.EXPECT().InB(uint16(0x1F7)).Return(StatusBusy),
					ports.EXPECT().InB(uint16(0x1F4)).Return(uint8(0x14)),
				)
			},
			wantErr: ErrNotATA,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockCtrl := gomock.NewController(t)
			defer mockCtrl.Finish()
			ports := NewMockPorts(mockCtrl)

			ports.EXPECT().OutB(gomock.Any(), gomock.Any()).AnyTimes()
			tt.expect(ports)

			_, err := NewTransport(ports, nil).Identify()
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
