// Package testkit provides OpenFOAM case fixtures, a scripted case-writing
// LLM and assertions shared by component and end-to-end tests.
package testkit

import (
	"foamagent/pkg/knowledge"
)

// ChannelSolver is the application of the channel fixture.
const ChannelSolver = "icoFoam"

// ChannelPatches are the boundary patches of the channel fixture, in mesh
// order.
var ChannelPatches = []string{"inlet", "outlet", "walls", "frontAndBack"} //nolint:gochecknoglobals // fixture

// ChannelFiles returns a consistent two-boundary channel flow case.
func ChannelFiles() map[string]string {
	return map[string]string{
		"system/blockMeshDict": `FoamFile
{
    version     2.0;
    format      ascii;
    class       dictionary;
    object      blockMeshDict;
}

convertToMeters 1;

vertices
(
    (0 0 0) (10 0 0) (10 1 0) (0 1 0)
    (0 0 0.1) (10 0 0.1) (10 1 0.1) (0 1 0.1)
);

blocks
(
    hex (0 1 2 3 4 5 6 7) (100 10 1) simpleGrading (1 1 1)
);

boundary
(
    inlet
    {
        type patch;
        faces ( (0 4 7 3) );
    }
    outlet
    {
        type patch;
        faces ( (1 2 6 5) );
    }
    walls
    {
        type wall;
        faces ( (0 1 5 4) (3 7 6 2) );
    }
    frontAndBack
    {
        type empty;
        faces ( (0 3 2 1) (4 5 6 7) );
    }
);
`,
		"system/controlDict": `FoamFile
{
    version     2.0;
    format      ascii;
    class       dictionary;
    object      controlDict;
}

application     icoFoam;
startFrom       startTime;
startTime       0;
stopAt          endTime;
endTime         1;
deltaT          0.005;
writeControl    timeStep;
writeInterval   20;
`,
		"system/fvSchemes": `FoamFile
{
    version     2.0;
    format      ascii;
    class       dictionary;
    object      fvSchemes;
}

ddtSchemes      { default Euler; }
gradSchemes     { default Gauss linear; }
divSchemes      { default none; div(phi,U) Gauss linear; }
laplacianSchemes { default Gauss linear corrected; }
interpolationSchemes { default linear; }
snGradSchemes   { default corrected; }
`,
		"system/fvSolution": `FoamFile
{
    version     2.0;
    format      ascii;
    class       dictionary;
    object      fvSolution;
}

solvers
{
    p
    {
        solver          PCG;
        preconditioner  DIC;
        tolerance       1e-06;
        relTol          0.05;
    }
    pFinal
    {
        $p;
        relTol          0;
    }
    U
    {
        solver          smoothSolver;
        smoother        symGaussSeidel;
        tolerance       1e-05;
        relTol          0;
    }
}

PISO
{
    nCorrectors     2;
    nNonOrthogonalCorrectors 0;
}
`,
		"constant/transportProperties": `FoamFile
{
    version     2.0;
    format      ascii;
    class       dictionary;
    object      transportProperties;
}

nu              0.01;
`,
		"0/U": `FoamFile
{
    version     2.0;
    format      ascii;
    class       volVectorField;
    object      U;
}

dimensions      [0 1 -1 0 0 0 0];

internalField   uniform (0 0 0);

boundaryField
{
    inlet
    {
        type            fixedValue;
        value           uniform (1 0 0);
    }
    outlet
    {
        type            zeroGradient;
    }
    walls
    {
        type            noSlip;
    }
    frontAndBack
    {
        type            empty;
    }
}
`,
		"0/p": `FoamFile
{
    version     2.0;
    format      ascii;
    class       volScalarField;
    object      p;
}

dimensions      [0 2 -2 0 0 0 0];

internalField   uniform 0;

boundaryField
{
    inlet
    {
        type            zeroGradient;
    }
    outlet
    {
        type            fixedValue;
        value           uniform 0;
    }
    walls
    {
        type            zeroGradient;
    }
    #includeEtc "caseDicts/setConstraintTypes"
}
`,
		"Allrun": `#!/bin/sh
cd "${0%/*}" || exit 1
blockMesh > log.blockMesh 2>&1 || exit 1
icoFoam > log.icoFoam 2>&1
`,
	}
}

// ChannelCorpus returns a reference corpus holding the channel case and a
// few command docs.
func ChannelCorpus() *knowledge.Corpus {
	rc := knowledge.ReferenceCase{
		Path:        "incompressible/icoFoam/channel/channel",
		Name:        "channel",
		Solver:      ChannelSolver,
		Domain:      "incompressible",
		Category:    "channel",
		Description: "laminar flow between two walls",
	}
	for _, p := range ChannelPaths() {
		rc.Files = append(rc.Files, knowledge.CaseFile{Path: p, Content: ChannelFiles()[p]})
	}
	return &knowledge.Corpus{
		Cases: []knowledge.ReferenceCase{rc},
		Commands: []knowledge.CommandDoc{
			{Name: "blockMesh", Content: "Usage: blockMesh [OPTIONS]\n  -dict <file>  Alternative blockMeshDict"},
			{Name: "checkMesh", Content: "Usage: checkMesh [OPTIONS]\n  -allGeometry  Include bounding box checks"},
		},
	}
}

// ChannelPaths lists the fixture paths in sorted order.
func ChannelPaths() []string {
	return []string{
		"0/U", "0/p", "Allrun", "constant/transportProperties",
		"system/blockMeshDict", "system/controlDict", "system/fvSchemes", "system/fvSolution",
	}
}

// ChannelJSON is the classification answer for the channel fixture.
const ChannelJSON = `{"case_name": "channel", "case_domain": "incompressible", "case_category": "channel", "case_solver": "icoFoam", "description": "laminar channel flow"}`
