// shadow-demo exercises a shadow.Controller against an in-process OnOff
// light endpoint standing in for a commissioned peer.
//
// It does not commission a real device: pkg/shadow takes a session and
// peer address from whatever SessionAcquirer it's given, and establishing
// one over a live PASE/CASE handshake is out of this module's scope. This
// binary instead uses pkg/im's secure test-pair transport, the same
// virtual-pipe stack pkg/shadow's own end-to-end tests run against, so it
// can demonstrate the read/write/invoke lifecycle without a second process.
//
// Usage:
//
//	shadow-demo
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/matterkit/shadow/pkg/clusters/onoff"
	"github.com/matterkit/shadow/pkg/im"
	"github.com/matterkit/shadow/pkg/session"
	"github.com/matterkit/shadow/pkg/shadow"
	"github.com/matterkit/shadow/pkg/transport"
)

func main() {
	dispatcher := im.NewMockDispatcher()
	dispatcher.SetReadResult(bool(false), nil)

	pair, err := im.NewSecureTestIMPair(im.SecureTestIMPairConfig{
		Dispatchers: [2]im.Dispatcher{nil, dispatcher},
	})
	if err != nil {
		log.Fatalf("NewSecureTestIMPair: %v", err)
	}
	defer pair.Close()

	controller := shadow.NewController(shadow.Config{
		IMClient: pair.Client(0),
		Acquirer: demoAcquirer{pair: pair},
		Storage:  shadow.NewMemoryStorage(),
	})

	device := controller.Device(shadow.DeviceConfig{
		Node:          shadow.NodeID(1),
		TestOverrides: shadow.TestOverrides{SkipSubscription: true},
	})
	defer device.Invalidate()

	reports := make(chan []shadow.AttributeReportItem, 16)
	device.SetDelegate(&printingDelegate{reports: reports})

	path := shadow.AttributePath{
		Endpoint:  1,
		Cluster:   shadow.ClusterID(onoff.ClusterID),
		Attribute: shadow.AttributeID(onoff.AttrOnOff),
	}

	if _, ok := device.ReadAttribute(path); !ok {
		fmt.Println("read: no cached value yet, refresh enqueued")
	}
	waitForReport(reports)

	v, ok := device.ReadAttribute(path)
	fmt.Printf("read: onoff=%v ok=%v\n", v, ok)

	dispatcher.SetWriteResult(nil)
	if err := device.WriteAttribute(path, shadow.NewBool(true), 0, nil); err != nil {
		log.Fatalf("WriteAttribute: %v", err)
	}
	waitForReport(reports)
	fmt.Println("write: onoff=true accepted")

	dispatcher.SetInvokeResult(nil, nil)
	cmdPath := shadow.CommandPath{
		Endpoint: 1,
		Cluster:  shadow.ClusterID(onoff.ClusterID),
		Command:  shadow.CommandID(onoff.CmdToggle),
	}
	if _, err := device.InvokeCommand(cmdPath, nil, nil, 0, nil); err != nil {
		log.Fatalf("InvokeCommand: %v", err)
	}
	fmt.Println("invoke: toggle sent")
}

func waitForReport(reports chan []shadow.AttributeReportItem) {
	select {
	case <-reports:
	case <-time.After(2 * time.Second):
		log.Fatal("timed out waiting for an attribute report")
	}
}

type demoAcquirer struct {
	pair *im.SecureTestIMPair
}

func (a demoAcquirer) Acquire(ctx context.Context, node shadow.NodeID) (*session.SecureContext, transport.PeerAddress, *session.Params, error) {
	return a.pair.Session(0), a.pair.PeerAddress(1), nil, nil
}

type printingDelegate struct {
	reports chan []shadow.AttributeReportItem
}

func (d *printingDelegate) StateChanged(shadow.ReachabilityState)        {}
func (d *printingDelegate) ReceivedEventReport([]shadow.EventReportItem) {}
func (d *printingDelegate) DeviceConfigurationChanged()                  {}
func (d *printingDelegate) DeviceBecameActive()                          {}
func (d *printingDelegate) DeviceCachePrimed()                           {}
func (d *printingDelegate) ReceivedAttributeReport(items []shadow.AttributeReportItem) {
	for _, it := range items {
		fmt.Printf("report: %+v = %v\n", it.Path, it.Value)
	}
	d.reports <- items
}
